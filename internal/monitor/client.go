// Package monitor implements the terminal ops dashboard: a bubbletea
// model that polls the rcad HTTP API and renders analyses, the
// discovery queue, and the pattern library.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client reads the rcad API surfaces the dashboard renders. Responses
// are decoded into local mirror types so the CLI tracks the wire
// contract, not the server internals.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates an API client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Stats mirrors GET /api/rca/stats.
type Stats struct {
	Analyses AnalysisStats `json:"analyses"`
	Patterns PatternStats  `json:"patterns"`
}

// AnalysisStats summarizes the analysis table.
type AnalysisStats struct {
	Total      int `json:"total"`
	Analyzing  int `json:"analyzing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	PRsCreated int `json:"prs_created"`
}

// PatternStats summarizes the pattern library.
type PatternStats struct {
	TotalPatterns          int    `json:"total_patterns"`
	TotalAntiPatterns      int    `json:"total_antipatterns"`
	HighConfidencePatterns int    `json:"high_confidence_patterns"`
	TotalMemories          int    `json:"total_memories"`
	Mode                   string `json:"mode"`
}

// QueueEntry mirrors one element of GET /api/discovery/queue.
type QueueEntry struct {
	IssueID    string    `json:"issue_id"`
	Title      string    `json:"title"`
	Priority   int       `json:"priority"`
	ErrorCount int       `json:"error_count"`
	Status     string    `json:"status"`
	QueuedAt   time.Time `json:"queued_at"`
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Stats fetches the merged analysis and pattern-library counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	if err := c.get(ctx, "/api/rca/stats", &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// Queue fetches the discovery queue, highest priority first.
func (c *Client) Queue(ctx context.Context, limit int) ([]QueueEntry, error) {
	var out []QueueEntry
	if err := c.get(ctx, fmt.Sprintf("/api/discovery/queue?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PatternStats fetches the pattern-library counters alone.
func (c *Client) PatternStats(ctx context.Context) (PatternStats, error) {
	var out PatternStats
	if err := c.get(ctx, "/api/patterns/stats", &out); err != nil {
		return PatternStats{}, err
	}
	return out, nil
}
