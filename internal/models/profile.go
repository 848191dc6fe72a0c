package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RolePoster   = "poster"
	RoleProvider = "provider"
)

// Profile is a marketplace user. The *_cents rollup fields are
// denormalized and only change through ledger recomputation.
type Profile struct {
	ID                    uuid.UUID `json:"id"`
	Email                 string    `json:"email"`
	PasswordHash          string    `json:"-"`
	FullName              string    `json:"full_name"`
	Role                  string    `json:"role"`
	AvatarURL             string    `json:"avatar_url,omitempty"`
	TotalEarningsCents    int64     `json:"total_earnings_cents"`
	AvailableBalanceCents int64     `json:"available_balance_cents"`
	PendingEarningsCents  int64     `json:"pending_earnings_cents"`
	TotalWithdrawnCents   int64     `json:"total_withdrawn_cents"`
	JobsCompleted         int       `json:"jobs_completed"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Rollup holds the recomputed balance fields of a provider profile.
type Rollup struct {
	TotalEarningsCents    int64 `json:"total_earnings_cents"`
	AvailableBalanceCents int64 `json:"available_balance_cents"`
	PendingEarningsCents  int64 `json:"pending_earnings_cents"`
	TotalWithdrawnCents   int64 `json:"total_withdrawn_cents"`
	JobsCompleted         int   `json:"jobs_completed"`
}
