package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskmarket/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	db     *memDB
	ctrl   *Controller
	ledger *memLedger
	poster uuid.UUID
	task   uuid.UUID
}

func newFixture(t *testing.T, taskStatus string) *fixture {
	t.Helper()
	f := &fixture{db: newMemDB(), ledger: &memLedger{}, poster: uuid.New(), task: uuid.New()}
	f.db.putTask(models.Task{
		ID:          f.task,
		UserID:      f.poster,
		Title:       "Fix leaking tap",
		Budget:      "$200",
		BudgetCents: 20000,
		Status:      taskStatus,
	})
	f.ctrl = NewController(f.db, memTasks{}, memOffers{}, f.ledger, memJobs{}, nil)
	f.ctrl.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) addOffer(status string, amount int64, net *int64) models.Offer {
	o := models.Offer{
		ID:             uuid.New(),
		TaskID:         f.task,
		ProviderID:     uuid.New(),
		AmountCents:    amount,
		NetAmountCents: net,
		Status:         status,
	}
	f.db.putOffer(o)
	return o
}

func (f *fixture) taskStatus() string { return f.db.snapshot().tasks[f.task].Status }

func (f *fixture) offerStatus(id uuid.UUID) string { return f.db.snapshot().offers[id].Status }

func activeOffers(st *memState, taskID uuid.UUID) int {
	n := 0
	for _, o := range st.offers {
		if o.TaskID == taskID && models.OfferIsActive(o.Status) {
			n++
		}
	}
	return n
}

func int64p(v int64) *int64 { return &v }

// ---------------------------------------------------------------------------
// 1. Transition table
// ---------------------------------------------------------------------------

func TestTransition(t *testing.T) {
	tests := []struct {
		name      string
		task      string
		offer     string
		action    Action
		wantOffer string
		wantTask  string
		wantErr   bool
	}{
		{"accept open pending", "open", "pending", ActionAccept, "accepted", "assigned", false},
		{"accept assigned task", "assigned", "pending", ActionAccept, "", "", true},
		{"accept rejected offer", "open", "rejected", ActionAccept, "", "", true},
		{"reject pending", "assigned", "pending", ActionReject, "rejected", "", false},
		{"reject accepted", "assigned", "accepted", ActionReject, "", "", true},
		{"work done accepted", "assigned", "accepted", ActionMarkWorkDone, "work_completed", "pending_complete", false},
		{"work done legacy in_progress", "in_progress", "accepted", ActionMarkWorkDone, "work_completed", "pending_complete", false},
		{"work done pending offer", "assigned", "pending", ActionMarkWorkDone, "", "", true},
		{"work done cancelled task", "cancelled", "accepted", ActionMarkWorkDone, "", "", true},
		{"approve", "pending_complete", "work_completed", ActionApprove, "completed", "completed", false},
		{"approve before work done", "assigned", "accepted", ActionApprove, "", "", true},
		{"approve twice", "completed", "completed", ActionApprove, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, tk, err := Transition(tt.task, tt.offer, tt.action)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if o != tt.wantOffer || tk != tt.wantTask {
				t.Errorf("got (%q, %q), want (%q, %q)", o, tk, tt.wantOffer, tt.wantTask)
			}
		})
	}

	if _, _, err := Transition("open", "pending", Action("bogus")); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]Action{
		"accept": ActionAccept, "reject": ActionReject, "approve": ActionApprove,
		"mark_work_done": ActionMarkWorkDone, "markWorkDone": ActionMarkWorkDone,
	} {
		got, err := ParseAction(in)
		if err != nil || got != want {
			t.Errorf("ParseAction(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseAction("delete"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 2. Full lifecycle: accept -> mark work done -> approve
// ---------------------------------------------------------------------------

func TestApply_FullLifecycle(t *testing.T) {
	f := newFixture(t, models.TaskStatusOpen)
	offer := f.addOffer(models.OfferStatusPending, 20000, nil)
	other := f.addOffer(models.OfferStatusPending, 25000, nil)
	ctx := context.Background()

	res, err := f.ctrl.Apply(ctx, f.task, offer.ID, f.poster, ActionAccept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Offer.Status != models.OfferStatusAccepted || res.Task.Status != models.TaskStatusAssigned {
		t.Fatalf("after accept: offer %s task %s", res.Offer.Status, res.Task.Status)
	}
	if got := f.offerStatus(other.ID); got != models.OfferStatusPending {
		t.Errorf("other offer changed to %s", got)
	}

	if _, err := f.ctrl.Apply(ctx, f.task, offer.ID, offer.ProviderID, ActionMarkWorkDone); err != nil {
		t.Fatalf("mark work done: %v", err)
	}
	if got := f.taskStatus(); got != models.TaskStatusPendingComplete {
		t.Fatalf("task after work done: %s", got)
	}

	res, err = f.ctrl.Apply(ctx, f.task, offer.ID, f.poster, ActionApprove)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	st := f.db.snapshot()
	task := st.tasks[f.task]
	if task.Status != models.TaskStatusCompleted {
		t.Errorf("task status: got %s, want completed", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	if got := st.offers[offer.ID].Status; got != models.OfferStatusCompleted {
		t.Errorf("offer status: got %s, want completed", got)
	}
	if len(st.earnings) != 1 {
		t.Fatalf("earnings: got %d, want 1", len(st.earnings))
	}
	if e := st.earnings[0]; e.NetAmountCents != 18000 || e.CommissionAmountCents != 2000 {
		t.Errorf("earning split: net %d commission %d", e.NetAmountCents, e.CommissionAmountCents)
	}
	if res.Earning == nil || res.Earning.OfferID != offer.ID {
		t.Error("result should carry the new earning")
	}
	if n := activeOffers(st, f.task); n != 1 {
		t.Errorf("active offers: got %d, want 1", n)
	}
	// accept, mark work done and approve each schedule a recompute.
	if len(st.jobs) != 3 {
		t.Errorf("recompute jobs: got %d, want 3", len(st.jobs))
	}
}

func TestApply_ExplicitNetAmount(t *testing.T) {
	f := newFixture(t, models.TaskStatusPendingComplete)
	offer := f.addOffer(models.OfferStatusWorkCompleted, 20000, int64p(18000))

	if _, err := f.ctrl.Apply(context.Background(), f.task, offer.ID, f.poster, ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}
	e := f.db.snapshot().earnings[0]
	if e.CommissionAmountCents != 2000 || e.NetAmountCents != 18000 {
		t.Errorf("got commission %d net %d, want 2000/18000", e.CommissionAmountCents, e.NetAmountCents)
	}
}

// ---------------------------------------------------------------------------
// 3. Authorization
// ---------------------------------------------------------------------------

func TestApply_Authorization(t *testing.T) {
	f := newFixture(t, models.TaskStatusOpen)
	offer := f.addOffer(models.OfferStatusPending, 20000, nil)
	ctx := context.Background()

	if _, err := f.ctrl.Apply(ctx, f.task, offer.ID, offer.ProviderID, ActionAccept); !errors.Is(err, ErrForbidden) {
		t.Fatalf("provider accepting own offer: expected ErrForbidden, got %v", err)
	}
	if _, err := f.ctrl.Apply(ctx, f.task, offer.ID, f.poster, ActionAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.ctrl.Apply(ctx, f.task, offer.ID, f.poster, ActionMarkWorkDone); !errors.Is(err, ErrForbidden) {
		t.Fatalf("poster marking work done: expected ErrForbidden, got %v", err)
	}
	if got := f.offerStatus(offer.ID); got != models.OfferStatusAccepted {
		t.Errorf("offer status after forbidden action: %s", got)
	}
}

func TestApply_OfferOfAnotherTask(t *testing.T) {
	f := newFixture(t, models.TaskStatusOpen)
	stray := models.Offer{ID: uuid.New(), TaskID: uuid.New(), ProviderID: uuid.New(), AmountCents: 100, Status: models.OfferStatusPending}
	f.db.putOffer(stray)

	if _, err := f.ctrl.Apply(context.Background(), f.task, stray.ID, f.poster, ActionAccept); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.ctrl.Apply(context.Background(), uuid.New(), stray.ID, f.poster, ActionAccept); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing task: expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 4. Failure leaves state unchanged
// ---------------------------------------------------------------------------

func TestApply_ApproveRollsBackOnLedgerFailure(t *testing.T) {
	f := newFixture(t, models.TaskStatusPendingComplete)
	offer := f.addOffer(models.OfferStatusWorkCompleted, 20000, nil)
	f.ledger.err = errors.New("earnings table unavailable")

	if _, err := f.ctrl.Apply(context.Background(), f.task, offer.ID, f.poster, ActionApprove); err == nil {
		t.Fatal("expected approve to fail")
	}

	st := f.db.snapshot()
	if got := st.tasks[f.task].Status; got != models.TaskStatusPendingComplete {
		t.Errorf("task status: got %s, want pending_complete", got)
	}
	if st.tasks[f.task].CompletedAt != nil {
		t.Error("completed_at must not be set")
	}
	if got := st.offers[offer.ID].Status; got != models.OfferStatusWorkCompleted {
		t.Errorf("offer status: got %s, want work_completed", got)
	}
	if len(st.earnings) != 0 || len(st.jobs) != 0 {
		t.Errorf("rows written on failure: earnings=%d jobs=%d", len(st.earnings), len(st.jobs))
	}

	// Retrying after the failure clears succeeds exactly once.
	f.ledger.err = nil
	if _, err := f.ctrl.Apply(context.Background(), f.task, offer.ID, f.poster, ActionApprove); err != nil {
		t.Fatalf("retry approve: %v", err)
	}
	if _, err := f.ctrl.Apply(context.Background(), f.task, offer.ID, f.poster, ActionApprove); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second approve: expected ErrInvalidTransition, got %v", err)
	}
	if n := len(f.db.snapshot().earnings); n != 1 {
		t.Errorf("earnings after retries: got %d, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// 5. Two posters' sessions accept different offers on the same task.
//    The first to commit wins; the loser writes nothing. Here the task row
//    lock serializes the two transactions, so the loser re-reads the task
//    as assigned and fails in Transition.
// ---------------------------------------------------------------------------

func TestApply_ConcurrentAccept(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, models.TaskStatusOpen)
		a := f.addOffer(models.OfferStatusPending, 20000, nil)
		b := f.addOffer(models.OfferStatusPending, 19000, nil)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, id := range []uuid.UUID{a.ID, b.ID} {
			wg.Add(1)
			go func(j int, id uuid.UUID) {
				defer wg.Done()
				_, errs[j] = f.ctrl.Apply(context.Background(), f.task, id, f.poster, ActionAccept)
			}(j, id)
		}
		wg.Wait()

		var winner, loser uuid.UUID
		switch {
		case errs[0] == nil && errors.Is(errs[1], ErrInvalidTransition):
			winner, loser = a.ID, b.ID
		case errs[1] == nil && errors.Is(errs[0], ErrInvalidTransition):
			winner, loser = b.ID, a.ID
		default:
			t.Fatalf("expected exactly one winner, got errs %v / %v", errs[0], errs[1])
		}

		st := f.db.snapshot()
		if got := st.tasks[f.task].Status; got != models.TaskStatusAssigned {
			t.Fatalf("task status: got %s, want assigned", got)
		}
		if got := st.offers[winner].Status; got != models.OfferStatusAccepted {
			t.Fatalf("winner status: got %s", got)
		}
		if got := st.offers[loser].Status; got != models.OfferStatusPending {
			t.Fatalf("loser status: got %s, want pending", got)
		}
		if n := activeOffers(st, f.task); n != 1 {
			t.Fatalf("active offers: got %d, want 1", n)
		}
		if len(st.jobs) != 1 {
			t.Fatalf("recompute jobs: got %d, want 1", len(st.jobs))
		}
	}
}

// staleReadTasks runs afterRead once, right after the task row is read.
type staleReadTasks struct {
	memTasks
	afterRead func()
}

func (s *staleReadTasks) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	t, err := s.memTasks.GetByIDForUpdate(ctx, tx, id)
	if hook := s.afterRead; hook != nil {
		s.afterRead = nil
		hook()
	}
	return t, err
}

// Without the row lock the loser reads the task as open, the winner commits,
// and only the status compare-and-set in UpdateStatus stops the loser.
func TestApply_AcceptAfterStaleRead(t *testing.T) {
	f := newFixture(t, models.TaskStatusOpen)
	f.db.noRowLock = true
	a := f.addOffer(models.OfferStatusPending, 20000, nil)
	b := f.addOffer(models.OfferStatusPending, 19000, nil)
	ctx := context.Background()

	tasks := &staleReadTasks{afterRead: func() {
		if _, err := f.ctrl.Apply(ctx, f.task, a.ID, f.poster, ActionAccept); err != nil {
			t.Fatalf("winner accept: %v", err)
		}
	}}
	loser := NewController(f.db, tasks, memOffers{}, f.ledger, memJobs{}, nil)

	if _, err := loser.Apply(ctx, f.task, b.ID, f.poster, ActionAccept); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("stale accept: expected ErrInvalidTransition, got %v", err)
	}
	if tasks.afterRead != nil {
		t.Fatal("winner never ran between the loser's read and write")
	}

	st := f.db.snapshot()
	if got := st.tasks[f.task].Status; got != models.TaskStatusAssigned {
		t.Errorf("task status: got %s, want assigned", got)
	}
	if got := st.offers[a.ID].Status; got != models.OfferStatusAccepted {
		t.Errorf("winner status: got %s", got)
	}
	if got := st.offers[b.ID].Status; got != models.OfferStatusPending {
		t.Errorf("loser status: got %s, want pending", got)
	}
	if n := activeOffers(st, f.task); n != 1 {
		t.Errorf("active offers: got %d, want 1", n)
	}
	if len(st.jobs) != 1 {
		t.Errorf("recompute jobs: got %d, want 1", len(st.jobs))
	}
}

// ---------------------------------------------------------------------------
// 6. SubmitOffer and CancelTask
// ---------------------------------------------------------------------------

func TestSubmitOffer(t *testing.T) {
	f := newFixture(t, models.TaskStatusOpen)
	provider := uuid.New()
	ctx := context.Background()
	in := OfferInput{TaskID: f.task, AmountCents: 18000, Message: "Available Saturday"}

	o, err := f.ctrl.SubmitOffer(ctx, provider, in)
	if err != nil {
		t.Fatalf("SubmitOffer: %v", err)
	}
	if o.Status != models.OfferStatusPending {
		t.Errorf("status: got %s, want pending", o.Status)
	}
	if _, err := f.ctrl.SubmitOffer(ctx, provider, in); !errors.Is(err, ErrDuplicateOffer) {
		t.Errorf("second offer: expected ErrDuplicateOffer, got %v", err)
	}
	if _, err := f.ctrl.SubmitOffer(ctx, f.poster, in); !errors.Is(err, ErrForbidden) {
		t.Errorf("poster bidding: expected ErrForbidden, got %v", err)
	}
	bad := in
	bad.NetAmountCents = int64p(20000)
	if _, err := f.ctrl.SubmitOffer(ctx, uuid.New(), bad); !errors.Is(err, ErrInvalidOffer) {
		t.Errorf("net above amount: expected ErrInvalidOffer, got %v", err)
	}
	bad = in
	bad.AmountCents = 0
	if _, err := f.ctrl.SubmitOffer(ctx, uuid.New(), bad); !errors.Is(err, ErrInvalidOffer) {
		t.Errorf("zero amount: expected ErrInvalidOffer, got %v", err)
	}
}

func TestSubmitOffer_TaskNotOpen(t *testing.T) {
	f := newFixture(t, models.TaskStatusAssigned)
	_, err := f.ctrl.SubmitOffer(context.Background(), uuid.New(), OfferInput{TaskID: f.task, AmountCents: 100})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t, models.TaskStatusOpen)
	p1 := f.addOffer(models.OfferStatusPending, 100, nil)
	p2 := f.addOffer(models.OfferStatusPending, 200, nil)
	ctx := context.Background()

	if _, err := f.ctrl.CancelTask(ctx, f.task, uuid.New()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger cancel: expected ErrForbidden, got %v", err)
	}
	task, err := f.ctrl.CancelTask(ctx, f.task, f.poster)
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("status: got %s", task.Status)
	}
	for _, id := range []uuid.UUID{p1.ID, p2.ID} {
		if got := f.offerStatus(id); got != models.OfferStatusRejected {
			t.Errorf("offer %s: got %s, want rejected", id, got)
		}
	}
	if _, err := f.ctrl.CancelTask(ctx, f.task, f.poster); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second cancel: expected ErrInvalidTransition, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 7. Status reconciliation
// ---------------------------------------------------------------------------

func TestReconcileStatus(t *testing.T) {
	offers := func(statuses ...string) []*models.Offer {
		out := make([]*models.Offer, len(statuses))
		for i, s := range statuses {
			out[i] = &models.Offer{Status: s}
		}
		return out
	}
	tests := []struct {
		name   string
		task   string
		offers []*models.Offer
		want   string
	}{
		{"open with accepted offer", "open", offers("pending", "accepted"), "assigned"},
		{"assigned with work done", "assigned", offers("work_completed"), "pending_complete"},
		{"pending_complete with completed", "pending_complete", offers("completed", "rejected"), "completed"},
		{"assigned with no active offer", "assigned", offers("rejected", "pending"), "open"},
		{"legacy in_progress with accepted", "in_progress", offers("accepted"), "assigned"},
		{"legacy in_progress orphaned", "in_progress", nil, "open"},
		{"open stays open", "open", offers("pending"), "open"},
		{"cancelled never reopens", "cancelled", offers("accepted"), "cancelled"},
		{"completed is final", "completed", nil, "completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReconcileStatus(tt.task, tt.offers); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSyncTaskStatus(t *testing.T) {
	// Offer accepted but the task write was lost.
	f := newFixture(t, models.TaskStatusOpen)
	f.addOffer(models.OfferStatusAccepted, 20000, nil)
	ctx := context.Background()

	changed, status, err := f.ctrl.SyncTaskStatus(ctx, f.task)
	if err != nil {
		t.Fatalf("SyncTaskStatus: %v", err)
	}
	if !changed || status != models.TaskStatusAssigned {
		t.Errorf("got changed=%v status=%s", changed, status)
	}
	if got := f.taskStatus(); got != models.TaskStatusAssigned {
		t.Errorf("persisted status: %s", got)
	}

	changed, _, err = f.ctrl.SyncTaskStatus(ctx, f.task)
	if err != nil {
		t.Fatalf("second SyncTaskStatus: %v", err)
	}
	if changed {
		t.Error("second sync should be a no-op")
	}
}

func TestSyncTaskStatus_SetsCompletedAt(t *testing.T) {
	f := newFixture(t, models.TaskStatusPendingComplete)
	f.addOffer(models.OfferStatusCompleted, 20000, nil)

	if _, _, err := f.ctrl.SyncTaskStatus(context.Background(), f.task); err != nil {
		t.Fatalf("SyncTaskStatus: %v", err)
	}
	task := f.db.snapshot().tasks[f.task]
	if task.Status != models.TaskStatusCompleted || task.CompletedAt == nil {
		t.Errorf("got status %s completed_at %v", task.Status, task.CompletedAt)
	}
}
