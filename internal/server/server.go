package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/claude/restkeeper/internal/ingest"
	"github.com/claude/restkeeper/internal/models"
	"github.com/claude/restkeeper/internal/session"
	"github.com/claude/restkeeper/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TimerService is the live timer registry, implemented by *session.Manager.
type TimerService interface {
	Create(ctx context.Context, req session.CreateRequest) (session.Snapshot, error)
	Get(ctx context.Context, userID int, id uuid.UUID) (session.Snapshot, error)
	List(ctx context.Context, userID int) ([]session.Snapshot, error)
	Command(ctx context.Context, userID int, id uuid.UUID, cmd session.Command) (session.Snapshot, error)
	Dispose(ctx context.Context, userID int, id uuid.UUID) error
	Subscribe(ctx context.Context, userID int, id uuid.UUID) (<-chan session.Event, func(), error)
}

// HistoryStore reads recorded rest periods, implemented by *storage.DB.
type HistoryStore interface {
	QueryRestPeriods(ctx context.Context, start, end time.Time, userID int, exerciseFilter string) ([]models.RestPeriodRow, error)
	GetRestStats(ctx context.Context, start, end time.Time, userID int) (*storage.RestStats, error)
}

// UserStore maps a tailnet login to a local user ID.
type UserStore interface {
	GetOrCreateUser(ctx context.Context, login, displayName string) (int, error)
}

// ImportLogStore records rest period uploads.
type ImportLogStore interface {
	InsertImportLog(ctx context.Context, log storage.ImportLog) (int64, error)
	QueryImportLogs(ctx context.Context, userID, limit int) ([]storage.ImportLog, error)
}

// Store is everything the server reads from the database. *storage.DB
// satisfies it.
type Store interface {
	HistoryStore
	UserStore
	ImportLogStore
}

var _ Store = (*storage.DB)(nil)

// Server holds dependencies for HTTP handlers.
type Server struct {
	timers TimerService
	store  Store
	ingest *ingest.Provider
	whois  WhoIsClient
	log    *slog.Logger
	apiKey string
	router chi.Router
}

// New creates a new Server with all routes configured. An empty apiKey
// leaves the command endpoints open.
func New(timers TimerService, store Store, provider *ingest.Provider, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		timers: timers,
		store:  store,
		ingest: provider,
		log:    log,
		apiKey: apiKey,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetTailscale switches identity resolution from the dev user to tailnet
// WhoIs lookups. Call before serving.
func (s *Server) SetTailscale(lc WhoIsClient) {
	s.whois = lc
}

// SetMCP mounts an MCP streamable HTTP handler at /mcp.
func (s *Server) SetMCP(h http.Handler) {
	s.router.Handle("/mcp", h)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)
	s.router.Use(s.identity)

	s.router.Get("/api/v1/me", s.handleMe)

	s.router.Route("/api/v1/timers", func(r chi.Router) {
		r.Get("/", s.handleListTimers)
		r.Get("/{id}", s.handleGetTimer)
		r.Get("/{id}/events", s.handleTimerEvents)

		r.Group(func(r chi.Router) {
			if s.apiKey != "" {
				r.Use(APIKeyAuth(s.apiKey))
			}
			r.Post("/", s.handleCreateTimer)
			r.Post("/{id}/{action}", s.handleTimerCommand)
			r.Delete("/{id}", s.handleDisposeTimer)
		})
	})

	s.router.Route("/api/v1/rest-periods", func(r chi.Router) {
		r.Get("/", s.handleQueryRestPeriods)
		r.Get("/stats", s.handleRestStats)

		// Uploads from clients that recorded rests offline
		r.Group(func(r chi.Router) {
			if s.apiKey != "" {
				r.Use(APIKeyAuth(s.apiKey))
			}
			r.Post("/", s.handleIngestRestPeriods)
		})
	})
	s.router.Get("/api/v1/import-logs", s.handleImportLogs)
	s.router.Get("/api/v1/exercises/classify", s.handleClassify)
}

// identity picks the identity middleware at request time so SetTailscale
// can be called after New.
func (s *Server) identity(next http.Handler) http.Handler {
	dev := DevIdentity(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.whois == nil {
			dev.ServeHTTP(w, r)
			return
		}
		TailscaleIdentity(s.whois, s.store, s.log)(next).ServeHTTP(w, r)
	})
}
