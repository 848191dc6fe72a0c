package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmarket/backend/internal/models"
)

type OfferRepo struct {
	pool *pgxpool.Pool
}

func NewOfferRepo(pool *pgxpool.Pool) *OfferRepo {
	return &OfferRepo{pool: pool}
}

const offerColumns = `o.id, o.task_id, o.provider_id, o.amount_cents, o.net_amount_cents, o.expected_delivery_date,
	o.message, o.status, o.created_at, o.updated_at, COALESCE(p.jobs_completed, 0)`

const offerFrom = ` FROM offers o LEFT JOIN profiles p ON p.id = o.provider_id`

func scanOffer(row rowScanner) (*models.Offer, error) {
	var o models.Offer
	err := row.Scan(&o.ID, &o.TaskID, &o.ProviderID, &o.AmountCents, &o.NetAmountCents, &o.ExpectedDeliveryDate,
		&o.Message, &o.Status, &o.CreatedAt, &o.UpdatedAt, &o.ProviderJobsCompleted)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func collectOffers(rows pgx.Rows) ([]*models.Offer, error) {
	defer rows.Close()
	var list []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// CreateTx inserts a pending offer. A second offer by the same provider on
// the same task fails with ErrDuplicate.
func (r *OfferRepo) CreateTx(ctx context.Context, tx pgx.Tx, o *models.Offer) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO offers (id, task_id, provider_id, amount_cents, net_amount_cents, expected_delivery_date, message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, o.ID, o.TaskID, o.ProviderID, o.AmountCents, o.NetAmountCents, o.ExpectedDeliveryDate, o.Message, o.Status).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("offer for task %s: %w", o.TaskID, ErrDuplicate)
	}
	return err
}

func (r *OfferRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	return scanOffer(r.pool.QueryRow(ctx, `SELECT `+offerColumns+offerFrom+` WHERE o.id = $1`, id))
}

// GetByIDTx reads the offer inside tx. Callers hold the owning task's lock.
func (r *OfferRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	return scanOffer(tx.QueryRow(ctx, `SELECT `+offerColumns+offerFrom+` WHERE o.id = $1`, id))
}

func (r *OfferRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Offer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+offerColumns+offerFrom+` WHERE o.task_id = $1 ORDER BY o.created_at`, taskID)
	if err != nil {
		return nil, err
	}
	return collectOffers(rows)
}

func (r *OfferRepo) ListByTaskTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) ([]*models.Offer, error) {
	rows, err := tx.Query(ctx, `SELECT `+offerColumns+offerFrom+` WHERE o.task_id = $1 ORDER BY o.created_at`, taskID)
	if err != nil {
		return nil, err
	}
	return collectOffers(rows)
}

func (r *OfferRepo) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*models.Offer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+offerColumns+offerFrom+` WHERE o.provider_id = $1 ORDER BY o.created_at DESC`, providerID)
	if err != nil {
		return nil, err
	}
	return collectOffers(rows)
}

// UpdateStatus is a compare-and-set on the offer status.
func (r *OfferRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE offers SET status = $3, updated_at = now() WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("offer %s not %s: %w", id, from, ErrConflict)
	}
	return nil
}

// RejectPending rejects every pending offer on a task, returning how many changed.
func (r *OfferRepo) RejectPending(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE offers SET status = 'rejected', updated_at = now() WHERE task_id = $1 AND status = 'pending'
	`, taskID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
