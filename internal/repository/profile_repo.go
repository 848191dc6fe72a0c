package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmarket/backend/internal/models"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

const profileColumns = `id, email, password_hash, full_name, role, avatar_url, total_earnings_cents,
	available_balance_cents, pending_earnings_cents, total_withdrawn_cents, jobs_completed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.FullName, &p.Role, &p.AvatarURL, &p.TotalEarningsCents,
		&p.AvailableBalanceCents, &p.PendingEarningsCents, &p.TotalWithdrawnCents, &p.JobsCompleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *ProfileRepo) Create(ctx context.Context, p *models.Profile) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, p.ID, p.Email, p.PasswordHash, p.FullName, p.Role).Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s: %w", p.Email, ErrDuplicate)
	}
	return err
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

func (r *ProfileRepo) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = $1`, email))
}

// UpdateDetails changes the user-editable fields. Balance fields are owned by the ledger.
func (r *ProfileRepo) UpdateDetails(ctx context.Context, id uuid.UUID, fullName, avatarURL string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles SET full_name = $2, avatar_url = $3, updated_at = now() WHERE id = $1
	`, id, fullName, avatarURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProviderIDs returns every provider, used by bulk recomputation.
func (r *ProfileRepo) ListProviderIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM profiles WHERE role = 'provider' ORDER BY id`)
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
