package mcp

import (
	"context"
	"time"

	"github.com/claude/restkeeper/internal/coach"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultTimeRange returns start/end defaulting to the last 7 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -7)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// --- Tool definitions ---

var toolListActiveTimers = mcp.NewTool("list_active_timers",
	mcp.WithDescription("List the user's live timers with status (idle/running/paused/completed), remaining seconds, m:ss clock and exercise."),
)

var toolGetRestHistory = mcp.NewTool("get_rest_history",
	mcp.WithDescription("Recorded rest periods, newest first. Each row has planned, actual and adjusted seconds and the outcome (completed, skipped or cancelled)."),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
	mcp.WithString("exercise", mcp.Description("Filter by exercise name (partial match, e.g. 'bench press')")),
)

var toolGetRestStats = mcp.NewTool("get_rest_stats",
	mcp.WithDescription("Aggregate rest statistics: counts per outcome, skip rate, average planned vs actual rest, and per-exercise averages."),
	mcp.WithString("start", mcp.Description("Start date. Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
)

var toolClassifyExercise = mcp.NewTool("classify_exercise",
	mcp.WithDescription("Classify an exercise as compound, isolation, cardio or mobility and return the recommended rest and a setup tip."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Exercise name (e.g. 'Romanian deadlift')")),
)

// Classification is the classify_exercise result.
type Classification struct {
	Name               string         `json:"name"`
	Category           coach.Category `json:"category"`
	RecommendedRestSec int            `json:"recommended_rest_sec"`
	Tip                string         `json:"tip"`
}

// --- Tool handlers ---

func (h *handlers) listActiveTimers(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := UserIDFromContext(ctx)
	timers, err := h.ds.ListTimers(ctx, uid)
	if err != nil {
		h.log.Error("mcp list_active_timers", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(timers)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getRestHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	exercise := req.GetString("exercise", "")
	uid := UserIDFromContext(ctx)

	rows, err := h.ds.QueryRestPeriods(ctx, start, end, uid, exercise)
	if err != nil {
		h.log.Error("mcp get_rest_history", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(rows)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getRestStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	uid := UserIDFromContext(ctx)
	stats, err := h.ds.GetRestStats(ctx, start, end, uid)
	if err != nil {
		h.log.Error("mcp get_rest_stats", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(stats)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) classifyExercise(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil || name == "" {
		return mcp.NewToolResultError("name parameter is required"), nil
	}

	c := coach.Classify(name)
	result, err := mcp.NewToolResultJSON(Classification{
		Name:               name,
		Category:           c,
		RecommendedRestSec: coach.RecommendedRest(c),
		Tip:                coach.SetupTip(name),
	})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
