package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmarket/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, user_id, category_id, title, description, budget, budget_cents, location, latitude, longitude,
	due_date, status, created_at, updated_at, completed_at`

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.UserID, &t.CategoryID, &t.Title, &t.Description, &t.Budget, &t.BudgetCents, &t.Location,
		&t.Latitude, &t.Longitude, &t.DueDate, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, category_id, title, description, budget, budget_cents, location, latitude, longitude, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.CategoryID, t.Title, t.Description, t.Budget, t.BudgetCents, t.Location, t.Latitude, t.Longitude,
		t.DueDate, t.Status).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetByIDForUpdate locks the task row. Every lifecycle transition on the
// task and its offers takes this lock first.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// UpdateStatus moves the task to status `to` only if it is currently in one
// of `from`. completedAt, when non-nil, is written only if the column is unset.
func (r *TaskRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []string, to string, completedAt *time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $2, completed_at = COALESCE(completed_at, $3), updated_at = now()
		WHERE id = $1 AND status = ANY($4)
	`, id, to, completedAt, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s not in %v: %w", id, from, ErrConflict)
	}
	return nil
}

type TaskFilter struct {
	Status     string
	CategoryID *uuid.UUID
	UserID     *uuid.UUID
	Limit      int
}

func (r *TaskRepo) List(ctx context.Context, f TaskFilter) ([]*models.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CategoryID != nil {
		args = append(args, *f.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// Title returns only the title, for message thread headers.
func (r *TaskRepo) Title(ctx context.Context, id uuid.UUID) (string, error) {
	var title string
	err := r.pool.QueryRow(ctx, `SELECT title FROM tasks WHERE id = $1`, id).Scan(&title)
	if err != nil {
		return "", notFound(err)
	}
	return title, nil
}

func (r *TaskRepo) AddPhoto(ctx context.Context, taskID uuid.UUID, url string) (*models.TaskPhoto, error) {
	p := &models.TaskPhoto{ID: uuid.New(), TaskID: taskID, URL: url}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO task_photos (id, task_id, url) VALUES ($1, $2, $3) RETURNING created_at
	`, p.ID, p.TaskID, p.URL).Scan(&p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *TaskRepo) ListPhotos(ctx context.Context, taskID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT url FROM task_photos WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}
