package spool

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/claude/restkeeper/internal/models"
	"github.com/google/uuid"
)

func testRow(exercise string, offset time.Duration) models.RestPeriodRow {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC).Add(offset)
	return models.RestPeriodRow{
		ID:          uuid.New(),
		UserID:      1,
		Kind:        models.KindRest,
		Exercise:    exercise,
		PlannedSec:  90,
		ActualSec:   84,
		AdjustedSec: -6,
		Outcome:     models.OutcomeSkipped,
		StartedAt:   start,
		EndedAt:     start.Add(84 * time.Second),
	}
}

func openTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeSink records inserts and can be switched into a failing state.
type fakeSink struct {
	fail bool
	rows map[uuid.UUID]models.RestPeriodRow
}

func (f *fakeSink) InsertRestPeriod(_ context.Context, r models.RestPeriodRow) (bool, error) {
	if f.fail {
		return false, errors.New("connection refused")
	}
	if f.rows == nil {
		f.rows = map[uuid.UUID]models.RestPeriodRow{}
	}
	_, dup := f.rows[r.ID]
	f.rows[r.ID] = r
	return !dup, nil
}

func (f *fakeSink) InsertRestPeriods(ctx context.Context, rows []models.RestPeriodRow) (int64, error) {
	var n int64
	for _, r := range rows {
		ok, err := f.InsertRestPeriod(ctx, r)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// TestEnqueuePendingRoundTrip verifies spooled rows come back intact and in order.
func TestEnqueuePendingRoundTrip(t *testing.T) {
	s := openTestSpool(t)
	ctx := context.Background()

	first := testRow("bench press", 0)
	second := testRow("squat", time.Minute)
	for _, r := range []models.RestPeriodRow{first, second, first} {
		if err := s.Enqueue(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("len = %d, want 2 (duplicate ignored)", n)
	}

	rows, err := s.Pending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("pending = %d, want 2", len(rows))
	}
	got := rows[0]
	if got.ID != first.ID {
		t.Errorf("first pending id = %s, want %s", got.ID, first.ID)
	}
	if !got.StartedAt.Equal(first.StartedAt) || !got.EndedAt.Equal(first.EndedAt) {
		t.Errorf("times = %v/%v, want %v/%v", got.StartedAt, got.EndedAt, first.StartedAt, first.EndedAt)
	}
	if got.Kind != models.KindRest || got.Outcome != models.OutcomeSkipped || got.AdjustedSec != -6 {
		t.Errorf("row = %+v", got)
	}
}

// TestRecorderFallsBackToSpool verifies a failing sink spools the row and a
// later flush drains it.
func TestRecorderFallsBackToSpool(t *testing.T) {
	s := openTestSpool(t)
	sink := &fakeSink{fail: true}
	rec := NewRecorder(sink, s, slog.Default())
	ctx := context.Background()

	for i := range 3 {
		if err := rec.RecordRestPeriod(ctx, testRow("row", time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := s.Len(ctx); n != 3 {
		t.Fatalf("spooled = %d, want 3", n)
	}

	if _, err := rec.Flush(ctx, 2); err == nil {
		t.Error("expected flush error while sink is down")
	}

	sink.fail = false
	flushed, err := rec.Flush(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if flushed != 3 {
		t.Errorf("flushed = %d, want 3", flushed)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("spool len after flush = %d, want 0", n)
	}
	if len(sink.rows) != 3 {
		t.Errorf("sink rows = %d, want 3", len(sink.rows))
	}
}

// TestRecorderDirectWrite verifies a healthy sink bypasses the spool.
func TestRecorderDirectWrite(t *testing.T) {
	s := openTestSpool(t)
	sink := &fakeSink{}
	rec := NewRecorder(sink, s, slog.Default())
	ctx := context.Background()

	if err := rec.RecordRestPeriod(ctx, testRow("curl", 0)); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("spool len = %d, want 0", n)
	}
	if len(sink.rows) != 1 {
		t.Errorf("sink rows = %d, want 1", len(sink.rows))
	}
}

// TestRemoveEmpty verifies removing nothing is not an error.
func TestRemoveEmpty(t *testing.T) {
	s := openTestSpool(t)
	if err := s.Remove(context.Background(), nil); err != nil {
		t.Errorf("Remove(nil) = %v", err)
	}
}
