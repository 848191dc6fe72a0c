package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/money"
)

var (
	// ErrInsufficientFunds is returned when a withdrawal exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for non-positive withdrawal amounts.
	ErrInvalidAmount = errors.New("amount must be > 0")
	// ErrNotFound is returned when a ledger row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a wallet transaction cannot move to the requested status.
	ErrInvalidState = errors.New("wallet transaction is not pending")
)

const (
	DefaultHoldPeriod            = 7 * 24 * time.Hour
	DefaultCommissionRatePercent = 10
)

// RollupInputs is everything Recompute reads for one provider.
type RollupInputs struct {
	Earnings       []*models.ProviderEarning
	AcceptedOffers []*models.Offer
	Transactions   []*models.WalletTransaction
	JobsCompleted  int
}

// Store is the persistence the ledger needs. Methods taking a pgx.Tx run
// inside the caller's transaction.
type Store interface {
	InsertEarning(ctx context.Context, tx pgx.Tx, e *models.ProviderEarning) (created bool, err error)
	InsertWalletTransaction(ctx context.Context, tx pgx.Tx, w *models.WalletTransaction) error
	LockProfile(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) error
	LoadRollupInputs(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) (*RollupInputs, error)
	WriteRollup(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, r models.Rollup) error
	PromoteMatured(ctx context.Context, tx pgx.Tx, now time.Time) ([]uuid.UUID, error)
	GetWalletTransactionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WalletTransaction, error)
	UpdateWalletTransactionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	ListEarnings(ctx context.Context, providerID uuid.UUID) ([]*models.ProviderEarning, error)
	ListWalletTransactions(ctx context.Context, providerID uuid.UUID) ([]*models.WalletTransaction, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Options struct {
	HoldPeriod            time.Duration
	CommissionRatePercent int
	Now                   func() time.Time
	Logger                *slog.Logger
}

// Service derives provider balances from earnings and wallet transactions.
type Service struct {
	pool          TxBeginner
	store         Store
	holdPeriod    time.Duration
	commissionPct int
	now           func() time.Time
	log           *slog.Logger
}

func NewService(pool TxBeginner, store Store, opts Options) *Service {
	s := &Service{
		pool:          pool,
		store:         store,
		holdPeriod:    opts.HoldPeriod,
		commissionPct: opts.CommissionRatePercent,
		now:           opts.Now,
		log:           opts.Logger,
	}
	if s.holdPeriod <= 0 {
		s.holdPeriod = DefaultHoldPeriod
	}
	if s.commissionPct <= 0 {
		s.commissionPct = DefaultCommissionRatePercent
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// SplitCommission returns the commission and net amount for a gross amount.
// An explicit net amount is honoured when it lies in (0, amount]; otherwise
// the flat commission rate applies.
func SplitCommission(amountCents int64, netAmountCents *int64, commissionPct int) (commission, net int64) {
	if netAmountCents != nil && *netAmountCents > 0 && *netAmountCents <= amountCents {
		return amountCents - *netAmountCents, *netAmountCents
	}
	commission = money.Percent(amountCents, commissionPct)
	return commission, amountCents - commission
}

// ComputeRollup folds the provider's rows into profile balances:
//
//	total_earnings    = Σ net over available earnings
//	pending_earnings  = Σ net over accepted offers
//	total_withdrawn   = Σ completed withdrawals
//	available_balance = total_earnings − total_withdrawn − Σ pending withdrawals
func ComputeRollup(in *RollupInputs, commissionPct int) models.Rollup {
	var r models.Rollup
	for _, e := range in.Earnings {
		if e.Status == models.EarningStatusAvailable {
			r.TotalEarningsCents += e.NetAmountCents
		}
	}
	for _, o := range in.AcceptedOffers {
		if o.Status != models.OfferStatusAccepted {
			continue
		}
		_, net := SplitCommission(o.AmountCents, o.NetAmountCents, commissionPct)
		r.PendingEarningsCents += net
	}
	var pendingWithdrawals int64
	for _, w := range in.Transactions {
		if w.TransactionType != models.WalletTxWithdrawal {
			continue
		}
		switch w.Status {
		case models.WalletTxStatusCompleted:
			r.TotalWithdrawnCents += w.AmountCents
		case models.WalletTxStatusPending:
			pendingWithdrawals += w.AmountCents
		}
	}
	r.AvailableBalanceCents = r.TotalEarningsCents - r.TotalWithdrawnCents - pendingWithdrawals
	r.JobsCompleted = in.JobsCompleted
	return r
}

// RecordEarning runs inside the approval transaction. It inserts the
// pending earning for a completed offer and the matching deposit. A second
// call for the same offer is a no-op and returns (nil, nil).
func (s *Service) RecordEarning(ctx context.Context, tx pgx.Tx, offer *models.Offer) (*models.ProviderEarning, error) {
	now := s.now().UTC()
	commission, net := SplitCommission(offer.AmountCents, offer.NetAmountCents, s.commissionPct)
	e := &models.ProviderEarning{
		ID:                    uuid.New(),
		ProviderID:            offer.ProviderID,
		TaskID:                offer.TaskID,
		OfferID:               offer.ID,
		AmountCents:           offer.AmountCents,
		CommissionAmountCents: commission,
		NetAmountCents:        net,
		Status:                models.EarningStatusPending,
		AvailableAt:           now.Add(s.holdPeriod),
		CreatedAt:             now,
	}
	created, err := s.store.InsertEarning(ctx, tx, e)
	if err != nil {
		return nil, fmt.Errorf("insert earning: %w", err)
	}
	if !created {
		s.log.Warn("earning already recorded", "offer_id", offer.ID)
		return nil, nil
	}
	// Deposits are automatic, so they are completed on creation.
	deposit := &models.WalletTransaction{
		ID:              uuid.New(),
		ProviderID:      offer.ProviderID,
		AmountCents:     net,
		TransactionType: models.WalletTxDeposit,
		Status:          models.WalletTxStatusCompleted,
		Reference:       "earning:" + e.ID.String(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.InsertWalletTransaction(ctx, tx, deposit); err != nil {
		return nil, fmt.Errorf("insert deposit: %w", err)
	}
	return e, nil
}

// Recompute rebuilds the provider's profile rollup in its own transaction.
func (s *Service) Recompute(ctx context.Context, providerID uuid.UUID) (models.Rollup, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Rollup{}, err
	}
	defer tx.Rollback(ctx)

	r, err := s.RecomputeTx(ctx, tx, providerID)
	if err != nil {
		return models.Rollup{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Rollup{}, err
	}
	return r, nil
}

// RecomputeTx locks the profile row, recomputes and writes the rollup.
func (s *Service) RecomputeTx(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) (models.Rollup, error) {
	if err := s.store.LockProfile(ctx, tx, providerID); err != nil {
		return models.Rollup{}, err
	}
	in, err := s.store.LoadRollupInputs(ctx, tx, providerID)
	if err != nil {
		return models.Rollup{}, fmt.Errorf("load rollup inputs: %w", err)
	}
	r := ComputeRollup(in, s.commissionPct)
	if err := s.store.WriteRollup(ctx, tx, providerID, r); err != nil {
		return models.Rollup{}, fmt.Errorf("write rollup: %w", err)
	}
	return r, nil
}

// PromoteMatured moves pending earnings whose hold period has elapsed to
// available and recomputes every affected provider. Returns the number of
// providers touched.
func (s *Service) PromoteMatured(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	providers, err := s.store.PromoteMatured(ctx, tx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("promote earnings: %w", err)
	}
	providers = dedupeSorted(providers)
	for _, id := range providers {
		if _, err := s.RecomputeTx(ctx, tx, id); err != nil {
			return 0, fmt.Errorf("recompute %s: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	if len(providers) > 0 {
		s.log.Info("promoted matured earnings", "providers", len(providers))
	}
	return len(providers), nil
}

// Withdraw validates the amount against a freshly computed available
// balance and records a pending withdrawal. The balance check, the insert
// and the balance update commit together or not at all.
func (s *Service) Withdraw(ctx context.Context, providerID uuid.UUID, amountCents int64) (*models.WalletTransaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	r, err := s.RecomputeTx(ctx, tx, providerID)
	if err != nil {
		return nil, err
	}
	if amountCents > r.AvailableBalanceCents {
		return nil, ErrInsufficientFunds
	}

	now := s.now().UTC()
	w := &models.WalletTransaction{
		ID:              uuid.New(),
		ProviderID:      providerID,
		AmountCents:     amountCents,
		TransactionType: models.WalletTxWithdrawal,
		Status:          models.WalletTxStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	w.Reference = "withdrawal:" + w.ID.String()
	if err := s.store.InsertWalletTransaction(ctx, tx, w); err != nil {
		return nil, fmt.Errorf("insert withdrawal: %w", err)
	}
	r.AvailableBalanceCents -= amountCents
	if err := s.store.WriteRollup(ctx, tx, providerID, r); err != nil {
		return nil, fmt.Errorf("write rollup: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// CompleteWithdrawal marks a pending withdrawal as paid out.
func (s *Service) CompleteWithdrawal(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	return s.settleWithdrawal(ctx, id, models.WalletTxStatusCompleted)
}

// CancelWithdrawal cancels a pending withdrawal, returning the amount to the available balance.
func (s *Service) CancelWithdrawal(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	return s.settleWithdrawal(ctx, id, models.WalletTxStatusCancelled)
}

func (s *Service) settleWithdrawal(ctx context.Context, id uuid.UUID, status string) (*models.WalletTransaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	w, err := s.store.GetWalletTransactionForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if w.TransactionType != models.WalletTxWithdrawal || w.Status != models.WalletTxStatusPending {
		return nil, ErrInvalidState
	}
	if err := s.store.UpdateWalletTransactionStatus(ctx, tx, id, status); err != nil {
		return nil, err
	}
	w.Status = status
	if _, err := s.RecomputeTx(ctx, tx, w.ProviderID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) ListEarnings(ctx context.Context, providerID uuid.UUID) ([]*models.ProviderEarning, error) {
	return s.store.ListEarnings(ctx, providerID)
}

func (s *Service) ListWalletTransactions(ctx context.Context, providerID uuid.UUID) ([]*models.WalletTransaction, error) {
	return s.store.ListWalletTransactions(ctx, providerID)
}

// dedupeSorted returns unique ids in a deterministic order so profile rows
// are always locked in the same sequence.
func dedupeSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
