package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/repository"
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type TaskStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []string, to string, completedAt *time.Time) error
}

type OfferStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, o *models.Offer) error
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error)
	ListByTaskTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) ([]*models.Offer, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) error
	RejectPending(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (int64, error)
}

// Ledger records the earning for an approved offer inside the approval tx.
type Ledger interface {
	RecordEarning(ctx context.Context, tx pgx.Tx, offer *models.Offer) (*models.ProviderEarning, error)
}

// Enqueuer schedules a provider balance recompute that runs only if tx commits.
type Enqueuer interface {
	EnqueueRecompute(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) error
}

type Controller struct {
	pool   TxBeginner
	tasks  TaskStore
	offers OfferStore
	ledger Ledger
	jobs   Enqueuer
	now    func() time.Time
	log    *slog.Logger
}

func NewController(pool TxBeginner, tasks TaskStore, offers OfferStore, ledger Ledger, jobs Enqueuer, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{pool: pool, tasks: tasks, offers: offers, ledger: ledger, jobs: jobs, now: time.Now, log: log}
}

// Result is the state after a successful action.
type Result struct {
	Task    *models.Task            `json:"task"`
	Offer   *models.Offer           `json:"offer"`
	Earning *models.ProviderEarning `json:"earning,omitempty"`
}

// Apply runs action a on offerID of taskID for caller. All writes happen in
// one transaction that first locks the task row, so concurrent actions on
// the same task serialize and the later one re-checks against committed
// state. On any error nothing is persisted.
func (c *Controller) Apply(ctx context.Context, taskID, offerID, caller uuid.UUID, a Action) (*Result, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := c.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	offer, err := c.offers.GetByIDTx(ctx, tx, offerID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if offer.TaskID != task.ID {
		return nil, fmt.Errorf("offer %s on task %s: %w", offerID, taskID, ErrNotFound)
	}
	if err := authorize(task, offer, caller, a); err != nil {
		return nil, err
	}

	nextOffer, nextTask, err := Transition(task.Status, offer.Status, a)
	if err != nil {
		return nil, err
	}

	if err := c.offers.UpdateStatus(ctx, tx, offer.ID, offer.Status, nextOffer); err != nil {
		return nil, mapStoreErr(err)
	}
	offer.Status = nextOffer

	if nextTask != "" {
		var completedAt *time.Time
		if nextTask == models.TaskStatusCompleted {
			now := c.now().UTC()
			completedAt = &now
		}
		if err := c.tasks.UpdateStatus(ctx, tx, task.ID, []string{task.Status}, nextTask, completedAt); err != nil {
			return nil, mapStoreErr(err)
		}
		task.Status = nextTask
		if completedAt != nil && task.CompletedAt == nil {
			task.CompletedAt = completedAt
		}
	}

	res := &Result{Task: task, Offer: offer}
	if a == ActionApprove {
		res.Earning, err = c.ledger.RecordEarning(ctx, tx, offer)
		if err != nil {
			return nil, fmt.Errorf("record earning: %w", err)
		}
	}
	// Pending earnings depend on which offers are accepted, so every
	// action that moves an offer into or out of accepted triggers a rollup.
	if a != ActionReject {
		if err := c.jobs.EnqueueRecompute(ctx, tx, offer.ProviderID); err != nil {
			return nil, fmt.Errorf("enqueue recompute: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	c.log.Info("offer transition", "action", string(a), "task_id", task.ID, "offer_id", offer.ID,
		"task_status", task.Status, "offer_status", offer.Status)
	return res, nil
}

func authorize(task *models.Task, offer *models.Offer, caller uuid.UUID, a Action) error {
	switch a {
	case ActionAccept, ActionReject, ActionApprove:
		if caller != task.UserID {
			return fmt.Errorf("%w: only the task poster can %s", ErrForbidden, a)
		}
	case ActionMarkWorkDone:
		if caller != offer.ProviderID {
			return fmt.Errorf("%w: only the offer's provider can mark work done", ErrForbidden)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
	return nil
}

// OfferInput is a provider's bid.
type OfferInput struct {
	TaskID               uuid.UUID
	AmountCents          int64
	NetAmountCents       *int64
	ExpectedDeliveryDate *time.Time
	Message              string
}

// SubmitOffer creates a pending offer. The task must be open and the
// provider may not bid on their own task or bid twice.
func (c *Controller) SubmitOffer(ctx context.Context, provider uuid.UUID, in OfferInput) (*models.Offer, error) {
	if in.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidOffer)
	}
	if in.NetAmountCents != nil && (*in.NetAmountCents <= 0 || *in.NetAmountCents > in.AmountCents) {
		return nil, fmt.Errorf("%w: net amount must be in (0, amount]", ErrInvalidOffer)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := c.tasks.GetByIDForUpdate(ctx, tx, in.TaskID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if task.UserID == provider {
		return nil, fmt.Errorf("%w: cannot bid on your own task", ErrForbidden)
	}
	if models.NormalizeTaskStatus(task.Status) != models.TaskStatusOpen {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, task.Status)
	}

	o := &models.Offer{
		ID:                   uuid.New(),
		TaskID:               task.ID,
		ProviderID:           provider,
		AmountCents:          in.AmountCents,
		NetAmountCents:       in.NetAmountCents,
		ExpectedDeliveryDate: in.ExpectedDeliveryDate,
		Message:              in.Message,
		Status:               models.OfferStatusPending,
	}
	if err := c.offers.CreateTx(ctx, tx, o); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateOffer
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// CancelTask lets the poster withdraw an open task. Pending offers are rejected.
func (c *Controller) CancelTask(ctx context.Context, taskID, caller uuid.UUID) (*models.Task, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := c.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if task.UserID != caller {
		return nil, fmt.Errorf("%w: only the task poster can cancel", ErrForbidden)
	}
	if task.Status != models.TaskStatusOpen {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, task.Status)
	}
	if err := c.tasks.UpdateStatus(ctx, tx, task.ID, []string{models.TaskStatusOpen}, models.TaskStatusCancelled, nil); err != nil {
		return nil, mapStoreErr(err)
	}
	n, err := c.offers.RejectPending(ctx, tx, task.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusCancelled
	c.log.Info("task cancelled", "task_id", task.ID, "offers_rejected", n)
	return task, nil
}

// SyncTaskStatus repairs a task whose status disagrees with its offers.
// It reports whether the row changed and the resulting status.
func (c *Controller) SyncTaskStatus(ctx context.Context, taskID uuid.UUID) (bool, string, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return false, "", err
	}
	defer tx.Rollback(ctx)

	task, err := c.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return false, "", mapStoreErr(err)
	}
	offers, err := c.offers.ListByTaskTx(ctx, tx, taskID)
	if err != nil {
		return false, "", err
	}
	want := ReconcileStatus(task.Status, offers)
	if want == task.Status {
		return false, task.Status, nil
	}

	var completedAt *time.Time
	if want == models.TaskStatusCompleted {
		now := c.now().UTC()
		completedAt = &now
	}
	if err := c.tasks.UpdateStatus(ctx, tx, task.ID, []string{task.Status}, want, completedAt); err != nil {
		return false, "", mapStoreErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, "", err
	}
	c.log.Warn("task status repaired", "task_id", task.ID, "from", task.Status, "to", want)
	return true, want, nil
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return err
}
