package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmarket/backend/internal/models"
)

type fakeLedger struct {
	recomputed []uuid.UUID
	promoted   int
	err        error
}

func (f *fakeLedger) Recompute(_ context.Context, id uuid.UUID) (models.Rollup, error) {
	if f.err != nil {
		return models.Rollup{}, f.err
	}
	f.recomputed = append(f.recomputed, id)
	return models.Rollup{AvailableBalanceCents: 100}, nil
}

func (f *fakeLedger) PromoteMatured(context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.promoted++
	return 1, nil
}

func TestRecomputeProfileWorker(t *testing.T) {
	l := &fakeLedger{}
	w := NewRecomputeProfileWorker(l, nil)
	id := uuid.New()

	err := w.Work(context.Background(), &river.Job[RecomputeProfileArgs]{Args: RecomputeProfileArgs{ProviderID: id}})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, l.recomputed)

	l.err = errors.New("db down")
	err = w.Work(context.Background(), &river.Job[RecomputeProfileArgs]{Args: RecomputeProfileArgs{ProviderID: id}})
	assert.ErrorIs(t, err, l.err)
}

func TestPromoteEarningsWorker(t *testing.T) {
	l := &fakeLedger{}
	w := NewPromoteEarningsWorker(l, nil)

	require.NoError(t, w.Work(context.Background(), &river.Job[PromoteEarningsArgs]{}))
	assert.Equal(t, 1, l.promoted)
}

func TestEnqueuer(t *testing.T) {
	var got []river.JobArgs
	e := NewEnqueuer(func(_ context.Context, _ pgx.Tx, args river.JobArgs, _ *river.InsertOpts) error {
		got = append(got, args)
		return nil
	})
	id := uuid.New()

	require.NoError(t, e.EnqueueRecompute(context.Background(), nil, id))
	require.Len(t, got, 1)
	assert.Equal(t, "recompute_profile", got[0].Kind())
	assert.Equal(t, RecomputeProfileArgs{ProviderID: id}, got[0])
}

func TestPeriodicJobs(t *testing.T) {
	assert.Len(t, PeriodicJobs(30*time.Minute), 1)
	assert.Len(t, PeriodicJobs(0), 1)
}
