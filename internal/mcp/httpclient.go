package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/claude/restkeeper/internal/models"
	"github.com/claude/restkeeper/internal/session"
	"github.com/claude/restkeeper/internal/storage"
)

// HTTPClient implements DataSource by calling the RestKeeper REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// data lives on the remote server (accessed over Tailscale). The server
// resolves the caller's identity, so the userID arguments are ignored.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}

	return body, nil
}

func timeParams(start, end time.Time) url.Values {
	v := url.Values{}
	v.Set("start", start.Format(time.RFC3339))
	v.Set("end", end.Format(time.RFC3339))
	return v
}

func (c *HTTPClient) QueryRestPeriods(ctx context.Context, start, end time.Time, _ int, exerciseFilter string) ([]models.RestPeriodRow, error) {
	params := timeParams(start, end)
	if exerciseFilter != "" {
		params.Set("exercise", exerciseFilter)
	}

	body, err := c.get(ctx, "/api/v1/rest-periods", params)
	if err != nil {
		return nil, err
	}

	var rows []models.RestPeriodRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("httpclient: decode rest periods: %w", err)
	}
	return rows, nil
}

func (c *HTTPClient) GetRestStats(ctx context.Context, start, end time.Time, _ int) (*storage.RestStats, error) {
	body, err := c.get(ctx, "/api/v1/rest-periods/stats", timeParams(start, end))
	if err != nil {
		return nil, err
	}

	var stats storage.RestStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("httpclient: decode rest stats: %w", err)
	}
	return &stats, nil
}

func (c *HTTPClient) ListTimers(ctx context.Context, _ int) ([]session.Snapshot, error) {
	body, err := c.get(ctx, "/api/v1/timers", nil)
	if err != nil {
		return nil, err
	}

	var timers []session.Snapshot
	if err := json.Unmarshal(body, &timers); err != nil {
		return nil, fmt.Errorf("httpclient: decode timers: %w", err)
	}
	return timers, nil
}
