package spool

import (
	"context"
	"log/slog"
	"time"

	"github.com/claude/restkeeper/internal/models"
	"github.com/google/uuid"
)

// Sink is the primary destination for rest periods. *storage.DB satisfies it.
type Sink interface {
	InsertRestPeriod(ctx context.Context, r models.RestPeriodRow) (bool, error)
	InsertRestPeriods(ctx context.Context, rows []models.RestPeriodRow) (int64, error)
}

// Recorder writes rest periods to the sink and falls back to the spool when
// the sink fails.
type Recorder struct {
	sink  Sink
	spool *Spool
	log   *slog.Logger
}

// NewRecorder creates a Recorder. A nil sink spools everything.
func NewRecorder(sink Sink, spool *Spool, log *slog.Logger) *Recorder {
	return &Recorder{sink: sink, spool: spool, log: log}
}

// RecordRestPeriod stores r in the sink, or in the spool if the sink is
// unavailable.
func (rec *Recorder) RecordRestPeriod(ctx context.Context, r models.RestPeriodRow) error {
	if rec.sink != nil {
		_, err := rec.sink.InsertRestPeriod(ctx, r)
		if err == nil {
			return nil
		}
		rec.log.Warn("rest period insert failed, spooling", "id", r.ID, "error", err)
	}
	return rec.spool.Enqueue(ctx, r)
}

// Flush replays spooled rows into the sink in batches. Returns the number of
// rows removed from the spool.
func (rec *Recorder) Flush(ctx context.Context, batchSize int) (int, error) {
	if rec.sink == nil {
		return 0, nil
	}
	flushed := 0
	for {
		rows, err := rec.spool.Pending(ctx, batchSize)
		if err != nil {
			return flushed, err
		}
		if len(rows) == 0 {
			return flushed, nil
		}
		// Duplicates are ignored by the sink, so every row in a successful
		// batch can leave the spool.
		if _, err := rec.sink.InsertRestPeriods(ctx, rows); err != nil {
			return flushed, err
		}
		ids := make([]uuid.UUID, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		if err := rec.spool.Remove(ctx, ids); err != nil {
			return flushed, err
		}
		flushed += len(rows)
	}
}

// Run flushes the spool every interval until ctx is cancelled.
func (rec *Recorder) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := rec.Flush(ctx, 100)
			if err != nil {
				rec.log.Warn("spool flush failed", "error", err, "flushed", n)
				continue
			}
			if n > 0 {
				rec.log.Info("spool flushed", "rows", n)
			}
		}
	}
}
