// Package sentry is a minimal client for the Sentry REST API: organization
// issue search with cursor pagination, issue details, and the resolved-issue
// history that seeds the pattern store.
//
// All requests pass through a client-side rate limiter. Sentry enforces
// org-wide limits, and one paginated scan can burn through them; a throttled
// scan is slow, an unthrottled one fails outright.
package sentry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/rcad/internal/config"
)

// ErrNotConfigured means no auth token is set. Endpoints that depend on the
// issue source surface this as a configuration problem rather than a
// transient failure.
var ErrNotConfigured = errors.New("sentry: auth token not configured")

// errorBodyLimit caps how much of an error response body is kept.
const errorBodyLimit = 200

// queryTimeLayout matches the timestamp format the issues endpoint accepts
// for start/end parameters.
const queryTimeLayout = "2006-01-02T15:04:05Z"

// APIError is a non-200 response from the Sentry API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sentry API error: %d - %s", e.StatusCode, e.Body)
}

// Client talks to the Sentry REST API for one organization.
type Client struct {
	baseURL    string
	org        string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New builds a Client from configuration. A missing token is not an error
// here: the server must come up (and serve patterns, health, analyses) with
// Sentry unconfigured, so requests fail lazily with ErrNotConfigured.
func New(cfg config.SentryConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		org:        cfg.Organization,
		token:      cfg.Token.Value(),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// Configured reports whether the client has credentials to make requests.
func (c *Client) Configured() bool {
	return c.token != "" && c.org != ""
}

// SearchOptions shapes an issue search.
type SearchOptions struct {
	// Query is the Sentry search query, e.g. "is:unresolved".
	Query string
	// Start and End bound the search window. Zero values are omitted.
	Start time.Time
	End   time.Time
	// Sort defaults to "freq".
	Sort string
	// PageSize is the per-page limit parameter. Defaults to 100.
	PageSize int
	// MaxPages caps pagination. 0 means no page cap.
	MaxPages int
	// MaxIssues stops pagination once this many issues have accumulated.
	// 0 means no cap.
	MaxIssues int
}

// SearchIssues pages through the organization issues endpoint, following
// Link-header cursors until the caps are hit or Sentry reports no further
// results.
//
// On a page failure the issues fetched so far are returned alongside the
// error, so callers choose: a scan treats any page failure as fatal (a
// partial scan silently mis-prioritizes), while the history loader keeps
// what it got.
func (c *Client) SearchIssues(ctx context.Context, opts SearchOptions) ([]Issue, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Sort == "" {
		opts.Sort = "freq"
	}

	params := url.Values{}
	params.Set("query", opts.Query)
	params.Set("sort", opts.Sort)
	params.Set("limit", strconv.Itoa(opts.PageSize))
	if !opts.Start.IsZero() {
		params.Set("start", opts.Start.UTC().Format(queryTimeLayout))
	}
	if !opts.End.IsZero() {
		params.Set("end", opts.End.UTC().Format(queryTimeLayout))
	}

	var issues []Issue
	cursor := ""
	for page := 0; ; page++ {
		if opts.MaxPages > 0 && page >= opts.MaxPages {
			break
		}
		if opts.MaxIssues > 0 && len(issues) >= opts.MaxIssues {
			break
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var pageIssues []Issue
		header, err := c.get(ctx, "/organizations/"+c.org+"/issues/", params, &pageIssues)
		if err != nil {
			return issues, fmt.Errorf("issues page %d: %w", page+1, err)
		}
		if len(pageIssues) == 0 {
			break
		}
		issues = append(issues, pageIssues...)

		cursor = nextCursor(header.Get("Link"))
		if cursor == "" {
			break
		}
	}
	return issues, nil
}

// IssueDetails fetches a single issue including its activity log.
func (c *Client) IssueDetails(ctx context.Context, issueID string) (*IssueDetails, error) {
	var details IssueDetails
	if _, err := c.get(ctx, "/organizations/"+c.org+"/issues/"+issueID+"/", nil, &details); err != nil {
		return nil, fmt.Errorf("issue %s: %w", issueID, err)
	}
	return &details, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) (_ http.Header, err error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	endpoint := endpointLabel(path)
	defer observeRequest(endpoint, &err)()

	if err = c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		err = &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		return nil, err
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decoding sentry response: %w", err)
	}
	return resp.Header, nil
}

// cursorPattern extracts the next-page cursor from a Link header. Sentry
// always sends a rel="next" entry; results="true" distinguishes a real next
// page from the empty tail marker.
var cursorPattern = regexp.MustCompile(`cursor=([^>]+)>; rel="next"; results="true"`)

func nextCursor(link string) string {
	if !strings.Contains(link, `rel="next"`) || !strings.Contains(link, `results="true"`) {
		return ""
	}
	m := cursorPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// endpointLabel collapses request paths to low-cardinality metric labels.
func endpointLabel(path string) string {
	if strings.HasSuffix(path, "/issues/") {
		return "issues"
	}
	return "issue_details"
}
