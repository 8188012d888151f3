// Package upload sends rest periods recorded by a standalone timer to a
// RestKeeper server.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/claude/restkeeper/internal/models"
)

// maxAttempts is the number of POSTs per batch before giving up.
const maxAttempts = 3

// result mirrors ingest.Result without importing the server-side packages.
type result struct {
	Received int      `json:"received"`
	Inserted int64    `json:"inserted"`
	Skipped  int64    `json:"skipped"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// Client sends rest periods to the RestKeeper server over HTTP. It satisfies
// spool.Sink, so a Recorder can spool rows while the server is unreachable.
type Client struct {
	serverURL  string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	retryBase  time.Duration
}

// NewClient creates a new HTTP client for the RestKeeper server.
func NewClient(serverURL, apiKey, userAgent string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryBase: time.Second,
	}
}

// InsertRestPeriod uploads a single row. Reports whether the server stored it
// as new.
func (c *Client) InsertRestPeriod(ctx context.Context, r models.RestPeriodRow) (bool, error) {
	n, err := c.InsertRestPeriods(ctx, []models.RestPeriodRow{r})
	return n == 1, err
}

// InsertRestPeriods uploads rows in one request. Network failures and 5xx
// responses are retried with exponential backoff; other failures are not.
// Returns the number of rows the server inserted.
func (c *Client) InsertRestPeriods(ctx context.Context, rows []models.RestPeriodRow) (int64, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return 0, fmt.Errorf("marshaling rest periods: %w", err)
	}

	var res result
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/v1/rest-periods", bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			err := fmt.Errorf("upload failed (status %d): %s", resp.StatusCode, bytes.TrimSpace(body))
			if resp.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}
		return json.NewDecoder(resp.Body).Decode(&res)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBase
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx)); err != nil {
		return 0, err
	}
	return res.Inserted, nil
}
