package storage

import (
	"context"
	"fmt"
	"time"
)

// RestStats summarises a user's rest periods over a time range.
type RestStats struct {
	Count         int64          `json:"count"`
	AvgPlannedSec float64        `json:"avg_planned_sec"`
	AvgActualSec  float64        `json:"avg_actual_sec"`
	TotalRestSec  int64          `json:"total_rest_sec"`
	Completed     int64          `json:"completed"`
	Skipped       int64          `json:"skipped"`
	Cancelled     int64          `json:"cancelled"`
	SkipRate      float64        `json:"skip_rate"`
	ByExercise    []ExerciseRest `json:"by_exercise"`
}

// ExerciseRest holds per-exercise rest averages.
type ExerciseRest struct {
	Exercise      string  `json:"exercise"`
	Count         int64   `json:"count"`
	AvgPlannedSec float64 `json:"avg_planned_sec"`
	AvgActualSec  float64 `json:"avg_actual_sec"`
}

// GetRestStats aggregates rest periods started in [start, end).
func (db *DB) GetRestStats(ctx context.Context, start, end time.Time, userID int) (*RestStats, error) {
	stats := &RestStats{}

	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(planned_sec), 0),
		        COALESCE(AVG(actual_sec), 0),
		        COALESCE(SUM(actual_sec), 0),
		        COUNT(*) FILTER (WHERE outcome = 'completed'),
		        COUNT(*) FILTER (WHERE outcome = 'skipped'),
		        COUNT(*) FILTER (WHERE outcome = 'cancelled')
		 FROM rest_periods
		 WHERE started_at >= $1 AND started_at < $2 AND user_id = $3`,
		start, end, userID,
	).Scan(&stats.Count, &stats.AvgPlannedSec, &stats.AvgActualSec, &stats.TotalRestSec,
		&stats.Completed, &stats.Skipped, &stats.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("aggregating rest periods: %w", err)
	}
	stats.SkipRate = skipRate(stats.Skipped, stats.Completed, stats.Cancelled)

	rows, err := db.Pool.Query(ctx,
		`SELECT exercise, COUNT(*), AVG(planned_sec), AVG(actual_sec)
		 FROM rest_periods
		 WHERE started_at >= $1 AND started_at < $2 AND user_id = $3 AND exercise <> ''
		 GROUP BY exercise
		 ORDER BY COUNT(*) DESC, exercise ASC`,
		start, end, userID)
	if err != nil {
		return nil, fmt.Errorf("querying rest by exercise: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e ExerciseRest
		if err := rows.Scan(&e.Exercise, &e.Count, &e.AvgPlannedSec, &e.AvgActualSec); err != nil {
			return nil, fmt.Errorf("scanning rest by exercise: %w", err)
		}
		stats.ByExercise = append(stats.ByExercise, e)
	}
	return stats, rows.Err()
}

// skipRate is the share of rest periods that were cut short, cancelled ones
// included.
func skipRate(skipped, completed, cancelled int64) float64 {
	total := skipped + completed + cancelled
	if total == 0 {
		return 0
	}
	return float64(skipped+cancelled) / float64(total)
}
