package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/claude/restkeeper/internal/models"
)

// InsertRestPeriod inserts one finished rest period. Returns true if inserted,
// false if the ID already exists.
func (db *DB) InsertRestPeriod(ctx context.Context, r models.RestPeriodRow) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`INSERT INTO rest_periods (id, user_id, kind, exercise, planned_sec, actual_sec,
		 adjusted_sec, outcome, started_at, ended_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT DO NOTHING`,
		r.ID, r.UserID, string(r.Kind), r.Exercise, r.PlannedSec, r.ActualSec,
		r.AdjustedSec, string(r.Outcome), r.StartedAt, r.EndedAt)
	if err != nil {
		return false, fmt.Errorf("inserting rest period: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertRestPeriods batch-inserts rest periods. Returns count inserted.
func (db *DB) InsertRestPeriods(ctx context.Context, rows []models.RestPeriodRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `INSERT INTO rest_periods (id, user_id, kind, exercise, planned_sec, actual_sec,
		adjusted_sec, outcome, started_at, ended_at) VALUES `
	args := make([]any, 0, len(rows)*10)
	valueStrings := make([]string, 0, len(rows))

	for i, r := range rows {
		base := i * 10
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args, r.ID, r.UserID, string(r.Kind), r.Exercise, r.PlannedSec,
			r.ActualSec, r.AdjustedSec, string(r.Outcome), r.StartedAt, r.EndedAt)
	}

	query += strings.Join(valueStrings, ",") + " ON CONFLICT DO NOTHING"

	tag, err := db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting rest periods: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueryRestPeriods retrieves rest periods started in [start, end), newest
// first. exerciseFilter is a case-insensitive partial match.
func (db *DB) QueryRestPeriods(ctx context.Context, start, end time.Time, userID int, exerciseFilter string) ([]models.RestPeriodRow, error) {
	query := `SELECT id, user_id, kind, exercise, planned_sec, actual_sec, adjusted_sec,
		 outcome, started_at, ended_at
		 FROM rest_periods
		 WHERE started_at >= $1 AND started_at < $2 AND user_id = $3`
	args := []any{start, end, userID}
	if exerciseFilter != "" {
		query += ` AND exercise ILIKE $4`
		args = append(args, "%"+exerciseFilter+"%")
	}
	query += ` ORDER BY started_at DESC`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rest periods: %w", err)
	}
	defer rows.Close()

	var result []models.RestPeriodRow
	for rows.Next() {
		var r models.RestPeriodRow
		var kind, outcome string
		if err := rows.Scan(&r.ID, &r.UserID, &kind, &r.Exercise, &r.PlannedSec, &r.ActualSec,
			&r.AdjustedSec, &outcome, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning rest period: %w", err)
		}
		r.Kind = models.TimerKind(kind)
		r.Outcome = models.Outcome(outcome)
		result = append(result, r)
	}
	return result, rows.Err()
}
