package models

import (
	"time"

	"github.com/google/uuid"
)

// Earning status enums.
const (
	EarningStatusPending   = "pending"
	EarningStatusAvailable = "available"
	EarningStatusWithdrawn = "withdrawn"
)

// Wallet transaction type and status enums.
const (
	WalletTxDeposit    = "deposit"
	WalletTxWithdrawal = "withdrawal"

	WalletTxStatusPending   = "pending"
	WalletTxStatusCompleted = "completed"
	WalletTxStatusCancelled = "cancelled"
)

type ProviderEarning struct {
	ID                    uuid.UUID  `json:"id"`
	ProviderID            uuid.UUID  `json:"provider_id"`
	TaskID                uuid.UUID  `json:"task_id"`
	OfferID               uuid.UUID  `json:"offer_id"`
	AmountCents           int64      `json:"amount_cents"`
	CommissionAmountCents int64      `json:"commission_amount_cents"`
	NetAmountCents        int64      `json:"net_amount_cents"`
	Status                string     `json:"status"`
	AvailableAt           time.Time  `json:"available_at"`
	WithdrawnAt           *time.Time `json:"withdrawn_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

type WalletTransaction struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	AmountCents     int64     `json:"amount_cents"`
	TransactionType string    `json:"transaction_type"`
	Status          string    `json:"status"`
	Reference       string    `json:"reference"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
