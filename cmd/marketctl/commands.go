package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/urfave/cli/v2"

	"github.com/taskmarket/backend/internal/config"
	"github.com/taskmarket/backend/internal/database"
	"github.com/taskmarket/backend/internal/execution"
	"github.com/taskmarket/backend/internal/ledger"
	"github.com/taskmarket/backend/internal/lifecycle"
	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/money"
	"github.com/taskmarket/backend/internal/repository"
)

// env holds what the commands share. close releases the pool.
type env struct {
	pool   *pgxpool.Pool
	ledger *ledger.Service
	log    *slog.Logger
}

func (e *env) close() { e.pool.Close() }

func connect(cctx *cli.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if url := cctx.String("db"); url != "" {
		cfg.Database.URL = url
	}
	pool, err := database.Connect(cctx.Context, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	log := slog.Default()
	return &env{
		pool: pool,
		ledger: ledger.NewService(pool, ledger.NewRepository(pool), ledger.Options{
			HoldPeriod:            cfg.Ledger.HoldPeriod,
			CommissionRatePercent: cfg.Ledger.CommissionRatePercent,
			Logger:                log,
		}),
		log: log,
	}, nil
}

// controller builds a lifecycle controller whose jobs go through an
// insert-only river client.
func (e *env) controller() (*lifecycle.Controller, error) {
	rc, err := river.NewClient(riverpgxv5.New(e.pool), &river.Config{Logger: e.log})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	jobs := execution.NewEnqueuer(func(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) error {
		_, err := rc.InsertTx(ctx, tx, args, opts)
		return err
	})
	return lifecycle.NewController(e.pool, repository.NewTaskRepo(e.pool), repository.NewOfferRepo(e.pool), e.ledger, jobs, e.log), nil
}

func uuidFlag(cctx *cli.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(cctx.String(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %w", name, err)
	}
	return id, nil
}

var cmdMigrate = &cli.Command{
	Name:  "migrate",
	Usage: "apply river and application schema",
	Action: func(cctx *cli.Context) error {
		e, err := connect(cctx)
		if err != nil {
			return err
		}
		defer e.close()
		if err := database.Migrate(cctx.Context, e.pool); err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, "schema up to date")
		return nil
	},
}

var cmdPromoteEarnings = &cli.Command{
	Name:  "promote-earnings",
	Usage: "make earnings past their hold period available and recompute balances",
	Action: func(cctx *cli.Context) error {
		e, err := connect(cctx)
		if err != nil {
			return err
		}
		defer e.close()
		n, err := e.ledger.PromoteMatured(cctx.Context)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "promoted %d earnings\n", n)
		return nil
	},
}

var cmdRecompute = &cli.Command{
	Name:  "recompute",
	Usage: "recompute a provider's balances from the ledger",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "provider", Usage: "provider profile id"},
		&cli.BoolFlag{Name: "all", Usage: "recompute every provider"},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.Bool("all") == cctx.IsSet("provider") {
			return errors.New("pass exactly one of --provider or --all")
		}
		e, err := connect(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		var ids []uuid.UUID
		if cctx.Bool("all") {
			if ids, err = repository.NewProfileRepo(e.pool).ListProviderIDs(cctx.Context); err != nil {
				return err
			}
		} else {
			id, err := uuidFlag(cctx, "provider")
			if err != nil {
				return err
			}
			ids = []uuid.UUID{id}
		}

		for _, id := range ids {
			ru, err := e.ledger.Recompute(cctx.Context, id)
			if err != nil {
				return fmt.Errorf("recompute %s: %w", id, err)
			}
			fmt.Fprintf(cctx.App.Writer, "%s total=%s available=%s pending=%s withdrawn=%s jobs=%d\n", id,
				money.FormatCents(ru.TotalEarningsCents), money.FormatCents(ru.AvailableBalanceCents),
				money.FormatCents(ru.PendingEarningsCents), money.FormatCents(ru.TotalWithdrawnCents), ru.JobsCompleted)
		}
		return nil
	},
}

var cmdSyncTask = &cli.Command{
	Name:  "sync-task",
	Usage: "repair a task status that disagrees with its offers",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "task", Usage: "task id", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		id, err := uuidFlag(cctx, "task")
		if err != nil {
			return err
		}
		e, err := connect(cctx)
		if err != nil {
			return err
		}
		defer e.close()
		c, err := e.controller()
		if err != nil {
			return err
		}
		changed, status, err := c.SyncTaskStatus(cctx.Context, id)
		if err != nil {
			return err
		}
		if changed {
			fmt.Fprintf(cctx.App.Writer, "task %s repaired: now %s\n", id, status)
		} else {
			fmt.Fprintf(cctx.App.Writer, "task %s already %s\n", id, status)
		}
		return nil
	},
}

var cmdCompleteWithdrawal = &cli.Command{
	Name:  "complete-withdrawal",
	Usage: "mark a pending withdrawal as paid out",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "wallet transaction id", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		return settle(cctx, (*ledger.Service).CompleteWithdrawal)
	},
}

var cmdCancelWithdrawal = &cli.Command{
	Name:  "cancel-withdrawal",
	Usage: "cancel a pending withdrawal, returning the funds to the balance",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "wallet transaction id", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		return settle(cctx, (*ledger.Service).CancelWithdrawal)
	},
}

func settle(cctx *cli.Context, op func(*ledger.Service, context.Context, uuid.UUID) (*models.WalletTransaction, error)) error {
	id, err := uuidFlag(cctx, "id")
	if err != nil {
		return err
	}
	e, err := connect(cctx)
	if err != nil {
		return err
	}
	defer e.close()
	wt, err := op(e.ledger, cctx.Context, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cctx.App.Writer, "withdrawal %s %s (%s)\n", wt.ID, wt.Status, money.FormatCents(wt.AmountCents))
	return nil
}
