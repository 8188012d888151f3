// Package ingest accepts rest periods recorded away from the server, such as
// by the terminal timer while offline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/claude/restkeeper/internal/models"
	"github.com/google/uuid"
)

// MaxBatch caps the rows accepted in one upload.
const MaxBatch = 1000

// ErrBatchTooLarge is returned for uploads over MaxBatch rows.
var ErrBatchTooLarge = fmt.Errorf("batch exceeds %d rows", MaxBatch)

// Result holds the outcome of an ingest operation.
type Result struct {
	Received int      `json:"received"`
	Inserted int64    `json:"inserted"`
	Skipped  int64    `json:"skipped"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// Store persists validated rows. *storage.DB satisfies it.
type Store interface {
	InsertRestPeriods(ctx context.Context, rows []models.RestPeriodRow) (int64, error)
}

// Provider validates uploaded rest periods and stores them.
type Provider struct {
	store Store
	log   *slog.Logger
}

// NewProvider creates a new rest period ingest provider.
func NewProvider(store Store, log *slog.Logger) *Provider {
	return &Provider{store: store, log: log}
}

// Ingest stores rows for userID. Invalid rows are rejected individually;
// rows whose ID already exists are skipped, so retried uploads are safe.
func (p *Provider) Ingest(ctx context.Context, userID int, rows []models.RestPeriodRow) (*Result, error) {
	if len(rows) > MaxBatch {
		return nil, ErrBatchTooLarge
	}

	result := &Result{Received: len(rows)}
	valid := make([]models.RestPeriodRow, 0, len(rows))
	for i, r := range rows {
		if err := validate(&r); err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i, err))
			continue
		}
		r.UserID = userID
		valid = append(valid, r)
	}

	if len(valid) > 0 {
		inserted, err := p.store.InsertRestPeriods(ctx, valid)
		if err != nil {
			return nil, fmt.Errorf("inserting rest periods: %w", err)
		}
		result.Inserted = inserted
		result.Skipped = int64(len(valid)) - inserted
	}

	p.log.Info("rest periods ingested", "user_id", userID, "received", result.Received,
		"inserted", result.Inserted, "rejected", result.Rejected)
	return result, nil
}

// validate checks a row and fills in defaults for an omitted ID and kind.
func validate(r *models.RestPeriodRow) error {
	kind, err := models.ParseTimerKind(string(r.Kind))
	if err != nil {
		return err
	}
	r.Kind = kind
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	switch {
	case !r.Outcome.Valid():
		return fmt.Errorf("unknown outcome %q", r.Outcome)
	case r.PlannedSec <= 0:
		return errors.New("planned_sec must be positive")
	case r.ActualSec < 0:
		return errors.New("actual_sec must not be negative")
	case r.StartedAt.IsZero():
		return errors.New("started_at is required")
	case r.EndedAt.Before(r.StartedAt):
		return errors.New("ended_at is before started_at")
	}
	return nil
}
