package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	OfferStatusPending       = "pending"
	OfferStatusAccepted      = "accepted"
	OfferStatusRejected      = "rejected"
	OfferStatusWorkCompleted = "work_completed"
	OfferStatusCompleted     = "completed"
)

// OfferIsActive reports whether an offer in status s holds the task
// (at most one such offer may exist per task).
func OfferIsActive(s string) bool {
	return s == OfferStatusAccepted || s == OfferStatusWorkCompleted || s == OfferStatusCompleted
}

type Offer struct {
	ID                   uuid.UUID  `json:"id"`
	TaskID               uuid.UUID  `json:"task_id"`
	ProviderID           uuid.UUID  `json:"provider_id"`
	AmountCents          int64      `json:"amount_cents"`
	NetAmountCents       *int64     `json:"net_amount_cents,omitempty"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date,omitempty"`
	Message              string     `json:"message"`
	Status               string     `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	// Populated by listing queries for ranking; not a column.
	ProviderJobsCompleted int `json:"provider_jobs_completed"`
}
