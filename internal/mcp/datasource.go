package mcp

import (
	"context"
	"time"

	"github.com/claude/restkeeper/internal/models"
	"github.com/claude/restkeeper/internal/session"
	"github.com/claude/restkeeper/internal/storage"
)

// DataSource abstracts the data layer for MCP tools. Local (in-process)
// and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	QueryRestPeriods(ctx context.Context, start, end time.Time, userID int, exerciseFilter string) ([]models.RestPeriodRow, error)
	GetRestStats(ctx context.Context, start, end time.Time, userID int) (*storage.RestStats, error)
	ListTimers(ctx context.Context, userID int) ([]session.Snapshot, error)
}

// History is the recorded side of a DataSource, implemented by *storage.DB.
type History interface {
	QueryRestPeriods(ctx context.Context, start, end time.Time, userID int, exerciseFilter string) ([]models.RestPeriodRow, error)
	GetRestStats(ctx context.Context, start, end time.Time, userID int) (*storage.RestStats, error)
}

// TimerLister is the live side of a DataSource, implemented by
// *session.Manager.
type TimerLister interface {
	List(ctx context.Context, userID int) ([]session.Snapshot, error)
}

// Local combines the database and the live timer registry of the running
// server.
type Local struct {
	History
	Timers TimerLister
}

// Compile-time checks.
var (
	_ DataSource  = Local{}
	_ History     = (*storage.DB)(nil)
	_ TimerLister = (*session.Manager)(nil)
)

// ListTimers returns the user's live timers.
func (l Local) ListTimers(ctx context.Context, userID int) ([]session.Snapshot, error) {
	return l.Timers.List(ctx, userID)
}
