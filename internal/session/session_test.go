package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/claude/restkeeper/internal/coach"
	"github.com/claude/restkeeper/internal/countdown"
	"github.com/claude/restkeeper/internal/loop"
	"github.com/claude/restkeeper/internal/models"
	"github.com/google/uuid"
)

// memRecorder keeps recorded rest periods in memory.
type memRecorder struct {
	mu   sync.Mutex
	rows []models.RestPeriodRow
}

func (r *memRecorder) RecordRestPeriod(_ context.Context, row models.RestPeriodRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func (r *memRecorder) all() []models.RestPeriodRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.RestPeriodRow(nil), r.rows...)
}

type harness struct {
	m     *Manager
	loop  *loop.Loop
	sched *countdown.ManualScheduler
	rec   *memRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := loop.New(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	h := &harness{loop: l, sched: countdown.NewManualScheduler(), rec: &memRecorder{}}
	h.m = NewManager(l, h.sched, h.rec, Config{}, slog.Default())
	t.Cleanup(func() {
		h.m.Close(context.Background())
		cancel()
		<-errc
	})
	return h
}

// advance fires n ticks on the loop goroutine.
func (h *harness) advance(t *testing.T, n int) {
	t.Helper()
	if err := h.loop.Do(context.Background(), func() { h.sched.Advance(n) }); err != nil {
		t.Fatal(err)
	}
}

// settle waits for asynchronous records to be written.
func (h *harness) settle() {
	h.m.wg.Wait()
}

func (h *harness) create(t *testing.T, req CreateRequest) Snapshot {
	t.Helper()
	snap, err := h.m.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return snap
}

func (h *harness) command(t *testing.T, id uuid.UUID, cmd Command) Snapshot {
	t.Helper()
	snap, err := h.m.Command(context.Background(), 1, id, cmd)
	if err != nil {
		t.Fatalf("Command(%s): %v", cmd.Action, err)
	}
	return snap
}

// TestCreateDefaults verifies duration selection from explicit values,
// exercise category and the configured default.
func TestCreateDefaults(t *testing.T) {
	h := newHarness(t)

	explicit := h.create(t, CreateRequest{UserID: 1, DurationSec: 45})
	if explicit.Total != 45 || explicit.Status != countdown.Idle {
		t.Errorf("explicit = %d/%v, want 45/idle", explicit.Total, explicit.Status)
	}
	if explicit.Kind != models.KindRest {
		t.Errorf("kind = %q, want rest", explicit.Kind)
	}

	squat := h.create(t, CreateRequest{UserID: 1, Exercise: "Back Squat"})
	if want := coach.RecommendedRest(coach.Compound); squat.Total != want {
		t.Errorf("squat total = %d, want %d", squat.Total, want)
	}
	if squat.Category != coach.Compound || squat.Tip == "" {
		t.Errorf("squat category/tip = %q/%q", squat.Category, squat.Tip)
	}

	plain := h.create(t, CreateRequest{UserID: 1})
	if plain.Total != 90 || plain.Clock != "1:30" || plain.Percent != 100 {
		t.Errorf("plain = %+v", plain)
	}
}

// TestCreateRejectsInvalid verifies bad kinds and negative durations.
func TestCreateRejectsInvalid(t *testing.T) {
	h := newHarness(t)
	if _, err := h.m.Create(context.Background(), CreateRequest{UserID: 1, Kind: "warmup"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	_, err := h.m.Create(context.Background(), CreateRequest{UserID: 1, DurationSec: -5})
	if !errors.Is(err, countdown.ErrInvalidDuration) {
		t.Errorf("error = %v, want ErrInvalidDuration", err)
	}
}

// TestCompletedRunIsRecorded runs a timer to the end and checks the row.
func TestCompletedRunIsRecorded(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateRequest{UserID: 1, Exercise: "curl", DurationSec: 10, AutoStart: true})
	if snap.Status != countdown.Running {
		t.Fatalf("status = %v, want running", snap.Status)
	}

	h.command(t, snap.ID, Command{Action: ActionAdjust, Delta: 5})
	h.advance(t, 15)
	h.settle()

	got, err := h.m.Get(context.Background(), 1, snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != countdown.Completed || got.Remaining != 0 {
		t.Errorf("state = %v/%d, want completed/0", got.Status, got.Remaining)
	}

	rows := h.rec.all()
	if len(rows) != 1 {
		t.Fatalf("recorded %d rows, want 1", len(rows))
	}
	r := rows[0]
	if r.Outcome != models.OutcomeCompleted || r.PlannedSec != 10 || r.ActualSec != 15 || r.AdjustedSec != 5 {
		t.Errorf("row = %+v", r)
	}
	if r.Exercise != "curl" || r.UserID != 1 {
		t.Errorf("row owner = %d/%q", r.UserID, r.Exercise)
	}
}

// TestSkipIsRecordedOnce verifies skip records a single skipped period.
func TestSkipIsRecordedOnce(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateRequest{UserID: 1, DurationSec: 60, AutoStart: true})
	h.advance(t, 20)
	h.command(t, snap.ID, Command{Action: ActionSkip})
	h.command(t, snap.ID, Command{Action: ActionSkip})
	h.advance(t, 5)
	h.settle()

	rows := h.rec.all()
	if len(rows) != 1 {
		t.Fatalf("recorded %d rows, want 1", len(rows))
	}
	if rows[0].Outcome != models.OutcomeSkipped || rows[0].ActualSec != 20 {
		t.Errorf("row = %+v", rows[0])
	}
}

// TestInvalidCommandIsNoOp verifies a pause on an idle timer returns the
// unchanged state rather than an error.
func TestInvalidCommandIsNoOp(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateRequest{UserID: 1, DurationSec: 30})

	got := h.command(t, snap.ID, Command{Action: ActionPause})
	if got.Status != countdown.Idle || got.Remaining != 30 {
		t.Errorf("state = %v/%d, want idle/30", got.Status, got.Remaining)
	}

	_, err := h.m.Command(context.Background(), 1, snap.ID, Command{Action: "rewind"})
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("error = %v, want ErrUnknownAction", err)
	}
}

// TestTimersAreScopedToUser verifies another user cannot see or drive a timer.
func TestTimersAreScopedToUser(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateRequest{UserID: 1, DurationSec: 30})

	if _, err := h.m.Get(context.Background(), 2, snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get as other user = %v, want ErrNotFound", err)
	}
	if _, err := h.m.Command(context.Background(), 2, snap.ID, Command{Action: ActionStart}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Command as other user = %v, want ErrNotFound", err)
	}
	list, err := h.m.List(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("other user sees %d timers, want 0", len(list))
	}
}

// TestDisposeRecordsCancelled verifies disposing a running timer records a
// cancelled period and that a second dispose reports not found.
func TestDisposeRecordsCancelled(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateRequest{UserID: 1, DurationSec: 30, AutoStart: true})
	h.advance(t, 7)

	if err := h.m.Dispose(context.Background(), 1, snap.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.m.Dispose(context.Background(), 1, snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second dispose = %v, want ErrNotFound", err)
	}
	h.advance(t, 30)
	h.settle()

	rows := h.rec.all()
	if len(rows) != 1 {
		t.Fatalf("recorded %d rows, want 1", len(rows))
	}
	if rows[0].Outcome != models.OutcomeCancelled || rows[0].ActualSec != 7 {
		t.Errorf("row = %+v", rows[0])
	}
}

// TestDisposeIdleRecordsNothing verifies a never-started timer leaves no history.
func TestDisposeIdleRecordsNothing(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateRequest{UserID: 1, DurationSec: 30})
	if err := h.m.Dispose(context.Background(), 1, snap.ID); err != nil {
		t.Fatal(err)
	}
	h.settle()
	if n := len(h.rec.all()); n != 0 {
		t.Errorf("recorded %d rows, want 0", n)
	}
}

// TestResetStartsNewRun verifies reset after completion allows a second
// recorded run with the new duration.
func TestResetStartsNewRun(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateRequest{UserID: 1, DurationSec: 5, AutoStart: true})
	h.advance(t, 5)

	got := h.command(t, snap.ID, Command{Action: ActionReset, Duration: 3})
	if got.Status != countdown.Idle || got.Remaining != 3 {
		t.Fatalf("after reset = %v/%d, want idle/3", got.Status, got.Remaining)
	}
	h.command(t, snap.ID, Command{Action: ActionStart})
	h.advance(t, 3)
	h.settle()

	rows := h.rec.all()
	if len(rows) != 2 {
		t.Fatalf("recorded %d rows, want 2", len(rows))
	}
	// Records are written asynchronously, so find the second run by its plan.
	var second *models.RestPeriodRow
	for i := range rows {
		if rows[i].PlannedSec == 3 {
			second = &rows[i]
		}
	}
	if second == nil || second.ActualSec != 3 || second.Outcome != models.OutcomeCompleted {
		t.Errorf("second run = %+v", second)
	}
}

// TestSubscribeReceivesEvents verifies subscribers get the initial state,
// ticks, completion, and a closed channel after dispose.
func TestSubscribeReceivesEvents(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t, CreateRequest{UserID: 1, DurationSec: 3})

	events, cancel, err := h.m.Subscribe(context.Background(), 1, snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	h.command(t, snap.ID, Command{Action: ActionStart})
	h.advance(t, 3)
	if err := h.m.Dispose(context.Background(), 1, snap.ID); err != nil {
		t.Fatal(err)
	}

	var types []EventType
	var remaining []int
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				break
			}
			types = append(types, ev.Type)
			if ev.Type == EventTick {
				remaining = append(remaining, ev.Remaining)
			}
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}

	want := []EventType{EventState, EventState, EventTick, EventTick, EventTick, EventCompleted, EventDisposed}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
	if remaining[0] != 2 || remaining[2] != 0 {
		t.Errorf("tick values = %v, want [2 1 0]", remaining)
	}
}

// TestSweepRemovesCompleted verifies completed timers past the TTL are disposed.
func TestSweepRemovesCompleted(t *testing.T) {
	h := newHarness(t)
	done := h.create(t, CreateRequest{UserID: 1, DurationSec: 2, AutoStart: true})
	live := h.create(t, CreateRequest{UserID: 1, DurationSec: 60, AutoStart: true})
	h.advance(t, 2)

	n, err := h.m.Sweep(context.Background(), -time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if _, err := h.m.Get(context.Background(), 1, done.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("completed timer still present: %v", err)
	}
	if _, err := h.m.Get(context.Background(), 1, live.ID); err != nil {
		t.Errorf("running timer removed: %v", err)
	}
}
