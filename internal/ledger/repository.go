package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmarket/backend/internal/models"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const earningColumns = `id, provider_id, task_id, offer_id, amount_cents, commission_amount_cents,
	net_amount_cents, status, available_at, withdrawn_at, created_at`

const walletColumns = `id, provider_id, amount_cents, transaction_type, status, reference, created_at, updated_at`

// InsertEarning relies on the unique offer_id constraint; a duplicate insert
// reports created=false.
func (r *Repository) InsertEarning(ctx context.Context, tx pgx.Tx, e *models.ProviderEarning) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_earnings (id, provider_id, task_id, offer_id, amount_cents, commission_amount_cents,
			net_amount_cents, status, available_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (offer_id) DO NOTHING
	`, e.ID, e.ProviderID, e.TaskID, e.OfferID, e.AmountCents, e.CommissionAmountCents,
		e.NetAmountCents, e.Status, e.AvailableAt, e.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) InsertWalletTransaction(ctx context.Context, tx pgx.Tx, w *models.WalletTransaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, provider_id, amount_cents, transaction_type, status, reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.ProviderID, w.AmountCents, w.TransactionType, w.Status, w.Reference, w.CreatedAt, w.UpdatedAt)
	return err
}

// LockProfile takes the row lock that serializes all balance writes for a provider.
func (r *Repository) LockProfile(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM profiles WHERE id = $1 FOR UPDATE`, providerID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *Repository) LoadRollupInputs(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) (*RollupInputs, error) {
	in := &RollupInputs{}

	rows, err := tx.Query(ctx, `SELECT `+earningColumns+` FROM provider_earnings WHERE provider_id = $1`, providerID)
	if err != nil {
		return nil, err
	}
	in.Earnings, err = collectEarnings(rows)
	if err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `
		SELECT id, task_id, provider_id, amount_cents, net_amount_cents, status
		FROM offers WHERE provider_id = $1 AND status = 'accepted'
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		o := &models.Offer{}
		if err := rows.Scan(&o.ID, &o.TaskID, &o.ProviderID, &o.AmountCents, &o.NetAmountCents, &o.Status); err != nil {
			return nil, err
		}
		in.AcceptedOffers = append(in.AcceptedOffers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT `+walletColumns+` FROM wallet_transactions WHERE provider_id = $1`, providerID)
	if err != nil {
		return nil, err
	}
	in.Transactions, err = collectWalletTransactions(rows)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM offers WHERE provider_id = $1 AND status = 'completed'
	`, providerID).Scan(&in.JobsCompleted)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (r *Repository) WriteRollup(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, ru models.Rollup) error {
	tag, err := tx.Exec(ctx, `
		UPDATE profiles
		SET total_earnings_cents = $2, available_balance_cents = $3, pending_earnings_cents = $4,
			total_withdrawn_cents = $5, jobs_completed = $6, updated_at = now()
		WHERE id = $1
	`, providerID, ru.TotalEarningsCents, ru.AvailableBalanceCents, ru.PendingEarningsCents,
		ru.TotalWithdrawnCents, ru.JobsCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PromoteMatured flips pending earnings past their hold to available and
// returns the provider of every promoted row.
func (r *Repository) PromoteMatured(ctx context.Context, tx pgx.Tx, now time.Time) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		UPDATE provider_earnings SET status = 'available'
		WHERE status = 'pending' AND available_at <= $1
		RETURNING provider_id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) GetWalletTransactionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WalletTransaction, error) {
	rows, err := tx.Query(ctx, `SELECT `+walletColumns+` FROM wallet_transactions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	out, err := collectWalletTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out[0], nil
}

func (r *Repository) UpdateWalletTransactionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallet_transactions SET status = $2, updated_at = now() WHERE id = $1 AND status = 'pending'
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *Repository) ListEarnings(ctx context.Context, providerID uuid.UUID) ([]*models.ProviderEarning, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+earningColumns+` FROM provider_earnings WHERE provider_id = $1 ORDER BY created_at DESC
	`, providerID)
	if err != nil {
		return nil, err
	}
	return collectEarnings(rows)
}

func (r *Repository) ListWalletTransactions(ctx context.Context, providerID uuid.UUID) ([]*models.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+walletColumns+` FROM wallet_transactions WHERE provider_id = $1 ORDER BY created_at DESC
	`, providerID)
	if err != nil {
		return nil, err
	}
	return collectWalletTransactions(rows)
}

func collectEarnings(rows pgx.Rows) ([]*models.ProviderEarning, error) {
	defer rows.Close()
	var out []*models.ProviderEarning
	for rows.Next() {
		e := &models.ProviderEarning{}
		if err := rows.Scan(&e.ID, &e.ProviderID, &e.TaskID, &e.OfferID, &e.AmountCents, &e.CommissionAmountCents,
			&e.NetAmountCents, &e.Status, &e.AvailableAt, &e.WithdrawnAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func collectWalletTransactions(rows pgx.Rows) ([]*models.WalletTransaction, error) {
	defer rows.Close()
	var out []*models.WalletTransaction
	for rows.Next() {
		w := &models.WalletTransaction{}
		if err := rows.Scan(&w.ID, &w.ProviderID, &w.AmountCents, &w.TransactionType, &w.Status,
			&w.Reference, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
