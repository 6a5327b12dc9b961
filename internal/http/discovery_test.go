package http

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rcad/internal/analysis"
	"github.com/fyrsmithlabs/rcad/internal/discovery"
	"github.com/fyrsmithlabs/rcad/internal/patterns"
	"github.com/fyrsmithlabs/rcad/internal/sentry"
)

func TestHandleScan(t *testing.T) {
	ts := newTestServer(t)
	recent := time.Now().UTC().Format(time.RFC3339)
	var gotOpts sentry.SearchOptions
	ts.searcher.search = func(ctx context.Context, opts sentry.SearchOptions) ([]sentry.Issue, error) {
		gotOpts = opts
		return []sentry.Issue{
			{ID: "1", Title: "KeyError: 'user_id'", Count: 240, UserCount: 80, LastSeen: recent},
			{ID: "2", Title: "TypeError: unsupported operand", Count: 60, UserCount: 10, LastSeen: recent},
			{ID: "3", Title: "ValueError: too quiet", Count: 4},
		}, nil
	}

	rec := ts.do(t, http.MethodPost, "/api/discovery/scan", ScanRequest{Timeframe: "7d"})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ScanResponse](t, rec)
	assert.Equal(t, 2, resp.Queued)
	assert.Equal(t, 2, resp.TotalFound)
	assert.Equal(t, "7d", resp.Timeframe)
	assert.Equal(t, map[string]int{"KeyError": 1, "TypeError": 1}, resp.Groups)
	require.Len(t, resp.Issues, 2)
	assert.Equal(t, "1", resp.Issues[0].ID, "highest priority first")
	assert.Empty(t, resp.AutoBatches)

	assert.Equal(t, "is:unresolved", gotOpts.Query)
	assert.Equal(t, 168*time.Hour, gotOpts.End.Sub(gotOpts.Start))
	assert.Equal(t, 100, gotOpts.PageSize)
	assert.Equal(t, 3, gotOpts.MaxPages)

	assert.Equal(t, 2, ts.queue.Len())
}

func TestHandleScan_AutoAnalyze(t *testing.T) {
	ts := newTestServer(t)
	recent := time.Now().UTC().Format(time.RFC3339)
	ts.searcher.search = func(ctx context.Context, opts sentry.SearchOptions) ([]sentry.Issue, error) {
		return []sentry.Issue{
			{ID: "1", Title: "KeyError: 'user_id'", Count: 240, UserCount: 80, LastSeen: recent},
			{ID: "2", Title: "KeyError: 'org_id'", Count: 180, UserCount: 50, LastSeen: recent},
		}, nil
	}

	rec := ts.do(t, http.MethodPost, "/api/discovery/scan", ScanRequest{AutoAnalyze: true})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ScanResponse](t, rec)
	require.Len(t, resp.AutoBatches, 1)
	assert.Equal(t, "KeyError", resp.AutoBatches[0].ErrorType)
	assert.Equal(t, 2, resp.AutoBatches[0].Issues)

	// Batch members are claimed before the background run starts.
	for _, id := range []string{"1", "2"} {
		entry, ok := ts.queue.Get(id)
		require.True(t, ok)
		assert.NotEqual(t, discovery.StatusQueued, entry.Status)
	}

	// The background batch drives both entries to completion.
	require.Eventually(t, func() bool {
		for _, id := range []string{"1", "2"} {
			entry, ok := ts.queue.Get(id)
			if !ok || entry.Status != discovery.StatusCompleted || entry.AnalysisID == "" {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func TestHandleScan_Gates(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, func(deps *Dependencies, cfg *Config) {
			deps.Scanner = nil
		})

		rec := ts.do(t, http.MethodPost, "/api/discovery/scan", ScanRequest{})

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("upstream failure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.searcher.search = func(ctx context.Context, opts sentry.SearchOptions) ([]sentry.Issue, error) {
			return nil, errors.New("sentry 500")
		}

		rec := ts.do(t, http.MethodPost, "/api/discovery/scan", ScanRequest{})

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "scan failed")
	})
}

func TestHandleQueue(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.Enqueue(discovery.Issue{ID: "1", Title: "KeyError: boom", Priority: 80})
	ts.queue.Enqueue(discovery.Issue{ID: "2", Title: "TypeError: nil", Priority: 40})
	ts.queue.Enqueue(discovery.Issue{ID: "3", Title: "ValueError: bad", Priority: 60})

	rec := ts.do(t, http.MethodGet, "/api/discovery/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]discovery.QueuedIssue](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, "1", entries[0].IssueID)
	assert.Equal(t, "3", entries[1].IssueID)
	assert.Equal(t, "2", entries[2].IssueID)

	rec = ts.do(t, http.MethodGet, "/api/discovery/queue?limit=1", nil)
	entries = decode[[]discovery.QueuedIssue](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].IssueID)

	require.NoError(t, ts.queue.MarkAnalyzing("1", "an-1"))
	rec = ts.do(t, http.MethodGet, "/api/discovery/queue?status=queued", nil)
	entries = decode[[]discovery.QueuedIssue](t, rec)
	require.Len(t, entries, 2)

	rec = ts.do(t, http.MethodGet, "/api/discovery/queue?limit=zebra", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueueRemove(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.Enqueue(discovery.Issue{ID: "1", Title: "KeyError: boom", Priority: 80})

	rec := ts.do(t, http.MethodDelete, "/api/discovery/queue/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RemoveResponse](t, rec)
	assert.True(t, resp.Removed)
	assert.Equal(t, 0, ts.queue.Len())

	rec = ts.do(t, http.MethodDelete, "/api/discovery/queue/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleQueueAnalyze(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.Enqueue(discovery.Issue{ID: "1", Title: "KeyError: boom", Priority: 80})

	rec := ts.do(t, http.MethodPost, "/api/discovery/queue/1/analyze", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[analysis.StartInfo](t, rec)
	require.NotEmpty(t, info.AnalysisID)

	entry, ok := ts.queue.Get("1")
	require.True(t, ok)
	assert.Equal(t, info.AnalysisID, entry.AnalysisID)

	require.Eventually(t, func() bool {
		entry, ok := ts.queue.Get("1")
		return ok && entry.Status == discovery.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	// The queued-to-analyzing gate rejects a second run of the same issue.
	rec = ts.do(t, http.MethodPost, "/api/discovery/queue/1/analyze", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already completed")
}

func TestHandleQueueAnalyze_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/discovery/queue/ghost/analyze", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleBootstrap(t *testing.T) {
	ts := newTestServer(t)
	ts.history.load = func(ctx context.Context, opts sentry.HistoryOptions) ([]patterns.HistoricalPattern, error) {
		return []patterns.HistoricalPattern{
			{ErrorType: "KeyError", FixApproach: "guard the session lookup"},
			{ErrorType: "TypeError", FixApproach: "coerce before comparing"},
		}, nil
	}

	rec := ts.do(t, http.MethodPost, "/api/discovery/bootstrap", BootstrapRequest{
		Projects:   []string{"backend"},
		MonthsBack: 3,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[BootstrapResponse](t, rec)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 2, resp.PatternsLoaded)
	assert.Equal(t, "loaded 2 patterns from 1 projects", resp.Message)
	assert.Equal(t, []string{"backend"}, resp.Projects)

	assert.Equal(t, []string{"backend"}, ts.history.lastOpts.Projects)
	assert.Equal(t, 3, ts.history.lastOpts.MonthsBack)
	require.Len(t, ts.library.completed(), 1)
	assert.Equal(t, bootstrapRun{loaded: 2, projects: []string{"backend"}}, ts.library.completed()[0])
}

func TestHandleBootstrap_SkipsRecentRun(t *testing.T) {
	ts := newTestServer(t)
	last := time.Now().UTC().Add(-24 * time.Hour)
	ts.library.needed = false
	ts.library.tracker = &patterns.Tracker{LastBootstrap: last, PatternsLoaded: 42, Projects: []string{"backend"}}

	rec := ts.do(t, http.MethodPost, "/api/discovery/bootstrap", BootstrapRequest{Projects: []string{"backend"}})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[BootstrapResponse](t, rec)
	assert.Equal(t, "skipped", resp.Status)
	assert.Equal(t, 42, resp.PatternsLoaded)
	require.NotNil(t, resp.LastBootstrap)
	assert.Equal(t, 0, ts.history.calls, "a skipped run must not touch Sentry")
}

func TestHandleBootstrap_Gates(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, func(deps *Dependencies, cfg *Config) {
			deps.History = nil
		})

		rec := ts.do(t, http.MethodPost, "/api/discovery/bootstrap", BootstrapRequest{Projects: []string{"backend"}})

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("requires projects", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodPost, "/api/discovery/bootstrap", BootstrapRequest{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "at least one project")
	})

	t.Run("history failure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.history.load = func(ctx context.Context, opts sentry.HistoryOptions) ([]patterns.HistoricalPattern, error) {
			return nil, errors.New("sentry unreachable")
		}

		rec := ts.do(t, http.MethodPost, "/api/discovery/bootstrap", BootstrapRequest{Projects: []string{"backend"}})

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.library.bootstrap = func(ctx context.Context, candidates []patterns.HistoricalPattern) (int, error) {
			return 0, errors.New("vector store down")
		}

		rec := ts.do(t, http.MethodPost, "/api/discovery/bootstrap", BootstrapRequest{Projects: []string{"backend"}})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleBootstrapStatus(t *testing.T) {
	t.Run("no tracker", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodGet, "/api/discovery/bootstrap/status", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[BootstrapStatusResponse](t, rec)
		assert.True(t, resp.NeedsBootstrap)
		assert.Nil(t, resp.LastBootstrap)
		assert.Nil(t, resp.MonthsSinceLast)
		assert.Equal(t, []string{}, resp.Projects)
	})

	t.Run("tracker error", func(t *testing.T) {
		ts := newTestServer(t)
		ts.library.trackerErr = errors.New("tracker corrupt")

		rec := ts.do(t, http.MethodGet, "/api/discovery/bootstrap/status", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[BootstrapStatusResponse](t, rec)
		assert.True(t, resp.NeedsBootstrap)
		assert.Equal(t, "tracker corrupt", resp.Error)
	})

	t.Run("recent run", func(t *testing.T) {
		ts := newTestServer(t)
		ts.library.needed = false
		ts.library.tracker = &patterns.Tracker{
			LastBootstrap:  time.Now().UTC().Add(-60 * 24 * time.Hour),
			PatternsLoaded: 42,
			Projects:       []string{"backend"},
		}

		rec := ts.do(t, http.MethodGet, "/api/discovery/bootstrap/status", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[BootstrapStatusResponse](t, rec)
		assert.False(t, resp.NeedsBootstrap)
		assert.Equal(t, 42, resp.PatternsLoaded)
		require.NotNil(t, resp.MonthsSinceLast)
		assert.InDelta(t, 2.0, *resp.MonthsSinceLast, 0.11)
	})
}
