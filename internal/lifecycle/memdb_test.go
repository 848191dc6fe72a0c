package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taskmarket/backend/internal/ledger"
	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// noopTx satisfies pgx.Tx; memTx overrides Commit/Rollback.
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// memDB: a single exclusive lock stands in for the task row lock. Each
// transaction reads from a copy of the state; the rows it wrote are merged
// into the committed state on Commit. Status updates compare against the
// latest committed row, as a Postgres UPDATE ... WHERE status = $n does
// after waiting on a concurrent writer. With noRowLock set, Begin skips the
// lock so a transaction can read state that goes stale before it writes.
// ---------------------------------------------------------------------------

type memState struct {
	tasks    map[uuid.UUID]models.Task
	offers   map[uuid.UUID]models.Offer
	earnings []models.ProviderEarning
	jobs     []uuid.UUID
}

func (s *memState) clone() *memState {
	c := &memState{
		tasks:    make(map[uuid.UUID]models.Task, len(s.tasks)),
		offers:   make(map[uuid.UUID]models.Offer, len(s.offers)),
		earnings: append([]models.ProviderEarning(nil), s.earnings...),
		jobs:     append([]uuid.UUID(nil), s.jobs...),
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.offers {
		c.offers[k] = v
	}
	return c
}

type memDB struct {
	txLock    sync.Mutex
	noRowLock bool

	mu        sync.Mutex
	committed *memState
}

func newMemDB() *memDB {
	return &memDB{committed: &memState{
		tasks:  make(map[uuid.UUID]models.Task),
		offers: make(map[uuid.UUID]models.Offer),
	}}
}

func (db *memDB) Begin(context.Context) (pgx.Tx, error) {
	locked := !db.noRowLock
	if locked {
		db.txLock.Lock()
	}
	db.mu.Lock()
	st := db.committed.clone()
	db.mu.Unlock()
	return &memTx{
		db:          db,
		state:       st,
		locked:      locked,
		dirtyTasks:  make(map[uuid.UUID]bool),
		dirtyOffers: make(map[uuid.UUID]bool),
		nEarnings:   len(st.earnings),
		nJobs:       len(st.jobs),
	}, nil
}

// snapshot returns a copy of the committed state.
func (db *memDB) snapshot() *memState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.committed.clone()
}

func (db *memDB) putTask(t models.Task) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.committed.tasks[t.ID] = t
}

func (db *memDB) putOffer(o models.Offer) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.committed.offers[o.ID] = o
}

type memTx struct {
	noopTx
	db     *memDB
	state  *memState
	locked bool
	once   sync.Once

	dirtyTasks  map[uuid.UUID]bool
	dirtyOffers map[uuid.UUID]bool
	nEarnings   int
	nJobs       int
}

func (tx *memTx) Commit(context.Context) error {
	tx.once.Do(func() {
		tx.db.mu.Lock()
		c := tx.db.committed
		for id := range tx.dirtyTasks {
			c.tasks[id] = tx.state.tasks[id]
		}
		for id := range tx.dirtyOffers {
			c.offers[id] = tx.state.offers[id]
		}
		c.earnings = append(c.earnings, tx.state.earnings[tx.nEarnings:]...)
		c.jobs = append(c.jobs, tx.state.jobs[tx.nJobs:]...)
		tx.db.mu.Unlock()
		tx.release()
	})
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	tx.once.Do(tx.release)
	return nil
}

func (tx *memTx) release() {
	if tx.locked {
		tx.db.txLock.Unlock()
	}
}

// latestTask returns the row an UPDATE would see: this transaction's own
// write if it made one, otherwise the committed version.
func (tx *memTx) latestTask(id uuid.UUID) (models.Task, bool) {
	if tx.dirtyTasks[id] {
		t, ok := tx.state.tasks[id]
		return t, ok
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	t, ok := tx.db.committed.tasks[id]
	return t, ok
}

func (tx *memTx) latestOffer(id uuid.UUID) (models.Offer, bool) {
	if tx.dirtyOffers[id] {
		o, ok := tx.state.offers[id]
		return o, ok
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	o, ok := tx.db.committed.offers[id]
	return o, ok
}

func stateOf(tx pgx.Tx) *memState { return tx.(*memTx).state }

func memTxOf(tx pgx.Tx) *memTx { return tx.(*memTx) }

// ---------------------------------------------------------------------------
// Stores over memDB
// ---------------------------------------------------------------------------

type memTasks struct{}

func (memTasks) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	t, ok := stateOf(tx).tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (memTasks) UpdateStatus(_ context.Context, tx pgx.Tx, id uuid.UUID, from []string, to string, completedAt *time.Time) error {
	mtx := memTxOf(tx)
	t, ok := mtx.latestTask(id)
	if !ok {
		return repository.ErrNotFound
	}
	match := false
	for _, f := range from {
		if t.Status == f {
			match = true
		}
	}
	if !match {
		return fmt.Errorf("task %s: %w", id, repository.ErrConflict)
	}
	t.Status = to
	if completedAt != nil && t.CompletedAt == nil {
		t.CompletedAt = completedAt
	}
	mtx.state.tasks[id] = t
	mtx.dirtyTasks[id] = true
	return nil
}

type memOffers struct{}

func (memOffers) CreateTx(_ context.Context, tx pgx.Tx, o *models.Offer) error {
	st := stateOf(tx)
	for _, x := range st.offers {
		if x.TaskID == o.TaskID && x.ProviderID == o.ProviderID {
			return repository.ErrDuplicate
		}
	}
	st.offers[o.ID] = *o
	memTxOf(tx).dirtyOffers[o.ID] = true
	return nil
}

func (memOffers) GetByIDTx(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	o, ok := stateOf(tx).offers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (memOffers) ListByTaskTx(_ context.Context, tx pgx.Tx, taskID uuid.UUID) ([]*models.Offer, error) {
	var out []*models.Offer
	for _, o := range stateOf(tx).offers {
		if o.TaskID == taskID {
			o := o
			out = append(out, &o)
		}
	}
	return out, nil
}

func (memOffers) UpdateStatus(_ context.Context, tx pgx.Tx, id uuid.UUID, from, to string) error {
	mtx := memTxOf(tx)
	o, ok := mtx.latestOffer(id)
	if !ok {
		return repository.ErrNotFound
	}
	if o.Status != from {
		return fmt.Errorf("offer %s: %w", id, repository.ErrConflict)
	}
	o.Status = to
	mtx.state.offers[id] = o
	mtx.dirtyOffers[id] = true
	return nil
}

func (memOffers) RejectPending(_ context.Context, tx pgx.Tx, taskID uuid.UUID) (int64, error) {
	st := stateOf(tx)
	var n int64
	for id, o := range st.offers {
		if o.TaskID == taskID && o.Status == models.OfferStatusPending {
			o.Status = models.OfferStatusRejected
			st.offers[id] = o
			memTxOf(tx).dirtyOffers[id] = true
			n++
		}
	}
	return n, nil
}

// memLedger records earnings with the production commission split.
type memLedger struct {
	err error
}

func (l *memLedger) RecordEarning(_ context.Context, tx pgx.Tx, o *models.Offer) (*models.ProviderEarning, error) {
	if l.err != nil {
		return nil, l.err
	}
	st := stateOf(tx)
	for _, e := range st.earnings {
		if e.OfferID == o.ID {
			return nil, nil
		}
	}
	commission, net := ledger.SplitCommission(o.AmountCents, o.NetAmountCents, ledger.DefaultCommissionRatePercent)
	e := models.ProviderEarning{
		ID:                    uuid.New(),
		ProviderID:            o.ProviderID,
		TaskID:                o.TaskID,
		OfferID:               o.ID,
		AmountCents:           o.AmountCents,
		CommissionAmountCents: commission,
		NetAmountCents:        net,
		Status:                models.EarningStatusPending,
	}
	st.earnings = append(st.earnings, e)
	return &e, nil
}

type memJobs struct{}

func (memJobs) EnqueueRecompute(_ context.Context, tx pgx.Tx, providerID uuid.UUID) error {
	st := stateOf(tx)
	st.jobs = append(st.jobs, providerID)
	return nil
}
