package services

import (
	"sort"
	"time"

	"github.com/taskmarket/backend/internal/models"
)

// Offer ranking preferences for a task's offer list.
const (
	RankAuto     = "auto"
	RankCheapest = "cheapest"
	RankFastest  = "fastest"
)

// offerCandidate holds an offer and its normalized scoring inputs.
type offerCandidate struct {
	offer    *models.Offer
	delivery time.Duration // until expected delivery; -1 when unknown
	jobs     int
}

func rankPreference(p string) string {
	if p != RankCheapest && p != RankFastest && p != RankAuto {
		return RankAuto
	}
	return p
}

// RankOffers returns the offers ordered best first for the preference.
// Offers without an expected delivery date sort last under "fastest".
// Ties keep submission order.
func RankOffers(offers []*models.Offer, pref string, now time.Time) []*models.Offer {
	candidates := make([]offerCandidate, 0, len(offers))
	for _, o := range offers {
		c := offerCandidate{offer: o, delivery: -1, jobs: o.ProviderJobsCompleted}
		if o.ExpectedDeliveryDate != nil {
			c.delivery = o.ExpectedDeliveryDate.Sub(now)
			if c.delivery < 0 {
				c.delivery = 0
			}
		}
		candidates = append(candidates, c)
	}
	scoreAndSort(candidates, rankPreference(pref))

	out := make([]*models.Offer, len(candidates))
	for i := range candidates {
		out[i] = candidates[i].offer
	}
	return out
}

func scoreAndSort(candidates []offerCandidate, pref string) {
	switch pref {
	case RankFastest:
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i].delivery, candidates[j].delivery
			if a < 0 || b < 0 {
				return b < 0 && a >= 0
			}
			return a < b
		})
		return
	case RankCheapest:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].offer.AmountCents < candidates[j].offer.AmountCents
		})
		return
	}

	// "auto": weighted score
	var maxDelivery time.Duration
	var maxPrice int64
	maxJobs := 0
	for i := range candidates {
		c := &candidates[i]
		if c.delivery > maxDelivery {
			maxDelivery = c.delivery
		}
		if c.offer.AmountCents > maxPrice {
			maxPrice = c.offer.AmountCents
		}
		if c.jobs > maxJobs {
			maxJobs = c.jobs
		}
	}
	scores := make(map[*models.Offer]float64, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		priceNorm := 0.0
		if maxPrice > 0 {
			priceNorm = 1.0 - float64(c.offer.AmountCents)/float64(maxPrice)
		}
		speedNorm := 0.0
		if c.delivery >= 0 && maxDelivery > 0 {
			speedNorm = 1.0 - float64(c.delivery)/float64(maxDelivery)
		} else if c.delivery >= 0 {
			speedNorm = 1.0
		}
		track := 0.5
		if maxJobs > 0 {
			track = float64(c.jobs) / float64(maxJobs)
		}
		scores[c.offer] = priceNorm*0.45 + speedNorm*0.30 + track*0.25
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return scores[candidates[i].offer] > scores[candidates[j].offer]
	})
}
