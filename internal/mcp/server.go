package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the user ID injected by the transport layer.
func UserIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

// WithUserID returns a context with the given user ID.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("RestKeeper", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("RestKeeper rest timer server. Inspect running rest timers, recorded rest periods and how consistently rests are taken. All data is scoped to the authenticated user."),
	)

	h := &handlers{ds: ds, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolListActiveTimers, Handler: h.listActiveTimers},
		server.ServerTool{Tool: toolGetRestHistory, Handler: h.getRestHistory},
		server.ServerTool{Tool: toolGetRestStats, Handler: h.getRestStats},
		server.ServerTool{Tool: toolClassifyExercise, Handler: h.classifyExercise},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resRecentRest, Handler: h.recentRest},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

// --- Resource definitions ---

var resRecentRest = mcp.NewResource(
	"restkeeper://recent_rest",
	"Recent Rest",
	mcp.WithResourceDescription("Rest periods recorded in the last 14 days"),
	mcp.WithMIMEType("application/json"),
)
