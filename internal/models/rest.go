package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimerKind identifies which screen owns a timer.
type TimerKind string

const (
	KindRest       TimerKind = "rest"
	KindPreview    TimerKind = "preview"
	KindTimed      TimerKind = "timed"
	KindTransition TimerKind = "transition"
)

// ErrUnknownKind is returned by ParseTimerKind for an unsupported kind.
var ErrUnknownKind = errors.New("unknown timer kind")

// ParseTimerKind validates a kind string. Empty defaults to KindRest.
func ParseTimerKind(s string) (TimerKind, error) {
	switch k := TimerKind(s); k {
	case "":
		return KindRest, nil
	case KindRest, KindPreview, KindTimed, KindTransition:
		return k, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
}

// Outcome describes how a rest period ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCancelled Outcome = "cancelled"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeSkipped, OutcomeCancelled:
		return true
	}
	return false
}

// RestPeriodRow is a row for the rest_periods table.
type RestPeriodRow struct {
	ID          uuid.UUID `json:"id"`
	UserID      int       `json:"user_id"`
	Kind        TimerKind `json:"kind"`
	Exercise    string    `json:"exercise,omitempty"`
	PlannedSec  int       `json:"planned_sec"`
	ActualSec   int       `json:"actual_sec"`
	AdjustedSec int       `json:"adjusted_sec"`
	Outcome     Outcome   `json:"outcome"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}
