package ingest

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/claude/restkeeper/internal/models"
	"github.com/google/uuid"
)

// memStore mimics ON CONFLICT DO NOTHING on the row ID.
type memStore struct {
	rows map[uuid.UUID]models.RestPeriodRow
	err  error
}

func (m *memStore) InsertRestPeriods(_ context.Context, rows []models.RestPeriodRow) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if m.rows == nil {
		m.rows = make(map[uuid.UUID]models.RestPeriodRow)
	}
	var n int64
	for _, r := range rows {
		if _, ok := m.rows[r.ID]; ok {
			continue
		}
		m.rows[r.ID] = r
		n++
	}
	return n, nil
}

func validRow() models.RestPeriodRow {
	start := time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)
	return models.RestPeriodRow{
		ID:         uuid.New(),
		UserID:     99,
		Kind:       models.KindRest,
		Exercise:   "Bench Press",
		PlannedSec: 120,
		ActualSec:  120,
		Outcome:    models.OutcomeCompleted,
		StartedAt:  start,
		EndedAt:    start.Add(2 * time.Minute),
	}
}

// TestIngestValidRows verifies rows are stored under the caller's user ID.
func TestIngestValidRows(t *testing.T) {
	store := &memStore{}
	p := NewProvider(store, slog.Default())

	a, b := validRow(), validRow()
	b.Kind = ""
	b.ID = uuid.Nil
	res, err := p.Ingest(context.Background(), 3, []models.RestPeriodRow{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if res.Received != 2 || res.Inserted != 2 || res.Rejected != 0 {
		t.Errorf("result = %+v", res)
	}
	for id, r := range store.rows {
		if r.UserID != 3 {
			t.Errorf("row %s user_id = %d, want 3", id, r.UserID)
		}
		if r.Kind != models.KindRest {
			t.Errorf("row %s kind = %q, want rest", id, r.Kind)
		}
		if id == uuid.Nil {
			t.Error("row stored with nil ID")
		}
	}
}

// TestIngestDuplicatesSkipped verifies a retried upload inserts nothing new.
func TestIngestDuplicatesSkipped(t *testing.T) {
	store := &memStore{}
	p := NewProvider(store, slog.Default())
	rows := []models.RestPeriodRow{validRow(), validRow()}

	if _, err := p.Ingest(context.Background(), 1, rows); err != nil {
		t.Fatal(err)
	}
	res, err := p.Ingest(context.Background(), 1, rows)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 0 || res.Skipped != 2 {
		t.Errorf("retry result = %+v, want 0 inserted, 2 skipped", res)
	}
}

// TestIngestRejectsInvalidRows verifies per-row validation.
func TestIngestRejectsInvalidRows(t *testing.T) {
	badOutcome := validRow()
	badOutcome.Outcome = "abandoned"
	badKind := validRow()
	badKind.Kind = "warmup"
	noPlan := validRow()
	noPlan.PlannedSec = 0
	negative := validRow()
	negative.ActualSec = -1
	noStart := validRow()
	noStart.StartedAt = time.Time{}
	backwards := validRow()
	backwards.EndedAt = backwards.StartedAt.Add(-time.Second)

	store := &memStore{}
	p := NewProvider(store, slog.Default())
	rows := []models.RestPeriodRow{validRow(), badOutcome, badKind, noPlan, negative, noStart, backwards}
	res, err := p.Ingest(context.Background(), 1, rows)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 || res.Rejected != 6 || len(res.Errors) != 6 {
		t.Errorf("result = %+v, want 1 inserted and 6 rejected", res)
	}
}

// TestIngestBatchTooLarge verifies the batch cap.
func TestIngestBatchTooLarge(t *testing.T) {
	p := NewProvider(&memStore{}, slog.Default())
	_, err := p.Ingest(context.Background(), 1, make([]models.RestPeriodRow, MaxBatch+1))
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("err = %v, want ErrBatchTooLarge", err)
	}
}

// TestIngestStoreError verifies store failures are returned.
func TestIngestStoreError(t *testing.T) {
	p := NewProvider(&memStore{err: errors.New("db down")}, slog.Default())
	if _, err := p.Ingest(context.Background(), 1, []models.RestPeriodRow{validRow()}); err == nil {
		t.Fatal("expected error when the store fails")
	}
}
