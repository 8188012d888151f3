// Package spool keeps finished rest periods in a local SQLite file while the
// main database is unreachable, and replays them once it is back.
package spool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/claude/restkeeper/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Spool is a SQLite-backed outbox of rest periods.
type Spool struct {
	db *sql.DB
}

// Open opens (or creates) the spool database at dir/spool.db.
func Open(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "spool.db"))
	if err != nil {
		return nil, fmt.Errorf("opening spool db: %w", err)
	}
	// One writer; SQLite serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS rest_periods (
		id           TEXT PRIMARY KEY,
		user_id      INTEGER NOT NULL,
		kind         TEXT NOT NULL,
		exercise     TEXT NOT NULL,
		planned_sec  INTEGER NOT NULL,
		actual_sec   INTEGER NOT NULL,
		adjusted_sec INTEGER NOT NULL,
		outcome      TEXT NOT NULL,
		started_at   TEXT NOT NULL,
		ended_at     TEXT NOT NULL,
		spooled_at   TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating spool table: %w", err)
	}

	return &Spool{db: db}, nil
}

// Close closes the spool database.
func (s *Spool) Close() error {
	return s.db.Close()
}

// Enqueue stores a rest period. Re-enqueueing the same ID is a no-op.
func (s *Spool) Enqueue(ctx context.Context, r models.RestPeriodRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rest_periods (id, user_id, kind, exercise, planned_sec, actual_sec,
		 adjusted_sec, outcome, started_at, ended_at, spooled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.UserID, string(r.Kind), r.Exercise, r.PlannedSec, r.ActualSec,
		r.AdjustedSec, string(r.Outcome), formatTime(r.StartedAt), formatTime(r.EndedAt),
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("spooling rest period %s: %w", r.ID, err)
	}
	return nil
}

// Pending returns up to limit spooled rest periods, oldest first.
func (s *Spool) Pending(ctx context.Context, limit int) ([]models.RestPeriodRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, exercise, planned_sec, actual_sec, adjusted_sec,
		 outcome, started_at, ended_at
		 FROM rest_periods ORDER BY rowid ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying spool: %w", err)
	}
	defer rows.Close()

	var result []models.RestPeriodRow
	for rows.Next() {
		var r models.RestPeriodRow
		var id, kind, outcome, started, ended string
		if err := rows.Scan(&id, &r.UserID, &kind, &r.Exercise, &r.PlannedSec, &r.ActualSec,
			&r.AdjustedSec, &outcome, &started, &ended); err != nil {
			return nil, fmt.Errorf("scanning spool row: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("spool row id %q: %w", id, err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("spool row %s started_at: %w", id, err)
		}
		if r.EndedAt, err = parseTime(ended); err != nil {
			return nil, fmt.Errorf("spool row %s ended_at: %w", id, err)
		}
		r.Kind = models.TimerKind(kind)
		r.Outcome = models.Outcome(outcome)
		result = append(result, r)
	}
	return result, rows.Err()
}

// Remove deletes the given IDs from the spool.
func (s *Spool) Remove(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rest_periods WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return fmt.Errorf("removing spooled rows: %w", err)
	}
	return nil
}

// Len returns the number of spooled rows.
func (s *Spool) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rest_periods`).Scan(&n)
	return n, err
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
