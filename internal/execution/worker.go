package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/taskmarket/backend/internal/models"
)

type RecomputeProfileArgs struct {
	ProviderID uuid.UUID `json:"provider_id"`
}

func (RecomputeProfileArgs) Kind() string { return "recompute_profile" }

type PromoteEarningsArgs struct{}

func (PromoteEarningsArgs) Kind() string { return "promote_earnings" }

// LedgerService defines the contract the workers need from the earnings ledger.
type LedgerService interface {
	Recompute(ctx context.Context, providerID uuid.UUID) (models.Rollup, error)
	PromoteMatured(ctx context.Context) (int, error)
}

type RecomputeProfileWorker struct {
	river.WorkerDefaults[RecomputeProfileArgs]
	ledger LedgerService
	log    *slog.Logger
}

func NewRecomputeProfileWorker(l LedgerService, log *slog.Logger) *RecomputeProfileWorker {
	if log == nil {
		log = slog.Default()
	}
	return &RecomputeProfileWorker{ledger: l, log: log}
}

func (w *RecomputeProfileWorker) Work(ctx context.Context, job *river.Job[RecomputeProfileArgs]) error {
	r, err := w.ledger.Recompute(ctx, job.Args.ProviderID)
	if err != nil {
		return fmt.Errorf("recompute provider %s: %w", job.Args.ProviderID, err)
	}
	w.log.Debug("profile recomputed", "provider_id", job.Args.ProviderID,
		"available_balance_cents", r.AvailableBalanceCents, "pending_earnings_cents", r.PendingEarningsCents)
	return nil
}

type PromoteEarningsWorker struct {
	river.WorkerDefaults[PromoteEarningsArgs]
	ledger LedgerService
	log    *slog.Logger
}

func NewPromoteEarningsWorker(l LedgerService, log *slog.Logger) *PromoteEarningsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PromoteEarningsWorker{ledger: l, log: log}
}

func (w *PromoteEarningsWorker) Work(ctx context.Context, _ *river.Job[PromoteEarningsArgs]) error {
	n, err := w.ledger.PromoteMatured(ctx)
	if err != nil {
		return fmt.Errorf("promote matured earnings: %w", err)
	}
	if n > 0 {
		w.log.Info("matured earnings promoted", "providers", n)
	}
	return nil
}

// NewWorkers registers every worker against the ledger.
func NewWorkers(l LedgerService, log *slog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewRecomputeProfileWorker(l, log))
	river.AddWorker(workers, NewPromoteEarningsWorker(l, log))
	return workers
}

// PeriodicJobs schedules earnings promotion every interval, starting at boot.
func PeriodicJobs(interval time.Duration) []*river.PeriodicJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) { return PromoteEarningsArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

// InsertTxFunc enqueues a job within the given transaction. Provided by main using river.Client.InsertTx.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) error

// Enqueuer schedules jobs that run only if the enclosing transaction commits.
type Enqueuer struct {
	insert InsertTxFunc
}

func NewEnqueuer(insert InsertTxFunc) *Enqueuer {
	return &Enqueuer{insert: insert}
}

func (e *Enqueuer) EnqueueRecompute(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) error {
	return e.insert(ctx, tx, RecomputeProfileArgs{ProviderID: providerID}, nil)
}
