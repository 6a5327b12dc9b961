package sentry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/config"
)

const resolvedCommitMessage = "Fix missing session guard in payment flow\n\n" +
	"Root cause: session dict lacks user_id for guest checkouts\n" +
	"Changes: fall back to request.user.pk\n" +
	"Adds regression test"

// newHistoryServer serves a resolved-issue search plus per-issue details.
// Issue 101 was resolved by a commit, 102 is below any sensible occurrence
// floor, and 103 was resolved by hand with no commit attached.
func newHistoryServer(t *testing.T, paths *[]string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*paths = append(*paths, r.URL.Path)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/organizations/acme/issues/":
			assert.Equal(t, "is:resolved project:backend", r.URL.Query().Get("query"))
			assert.Equal(t, "freq", r.URL.Query().Get("sort"))
			assert.Equal(t, "50", r.URL.Query().Get("limit"))
			fmt.Fprint(w, `[
				{"id": "101", "shortId": "BACKEND-7", "title": "KeyError: 'user_id'",
				 "culprit": "app/views.py in process_payment", "count": "150", "userCount": "42"},
				{"id": "102", "shortId": "BACKEND-8", "title": "TypeError: unsupported operand", "count": "3"},
				{"id": "103", "shortId": "BACKEND-9", "title": "ValueError: bad input", "count": "80"}
			]`)
		case "/organizations/acme/issues/101/":
			fmt.Fprintf(w, `{
				"id": "101", "count": "150",
				"activity": [
					{"type": "note"},
					{"type": "set_resolved_in_commit", "data": {"commit": {
						"id": "abc123",
						"message": %q,
						"dateCreated": "2025-11-05T09:30:00Z",
						"repository": {"name": "acme/app", "url": "https://github.com/acme/app"}
					}}}
				]
			}`, resolvedCommitMessage)
		case "/organizations/acme/issues/103/":
			fmt.Fprint(w, `{"id": "103", "count": "80", "activity": [{"type": "set_resolved"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestClient_ResolvedPatterns(t *testing.T) {
	var paths []string
	srv := newHistoryServer(t, &paths)
	defer srv.Close()

	got, err := newTestClient(srv.URL).ResolvedPatterns(context.Background(), HistoryOptions{
		Projects: []string{"backend"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	p := got[0]
	assert.Equal(t, "KeyError", p.ErrorType)
	assert.Equal(t, "KeyError: 'user_id'", p.ErrorMessage)
	assert.Equal(t, "app/views.py in process_payment", p.FilePath)
	assert.Equal(t, "process_payment", p.FunctionName)
	assert.Equal(t, "Fix missing session guard in payment flow\n"+
		"Root cause: session dict lacks user_id for guest checkouts\n"+
		"Changes: fall back to request.user.pk\n"+
		"Adds regression test", p.FixApproach)
	assert.Equal(t, "https://github.com/acme/app/commit/abc123", p.CommitURL)
	assert.Equal(t, "BACKEND-7", p.SentryIssueID)
	assert.Equal(t, 150, p.Occurrences)
	assert.InDelta(t, 0.95, p.Confidence, 1e-9)
	assert.True(t, p.ResolvedAt.Equal(time.Date(2025, 11, 5, 9, 30, 0, 0, time.UTC)))
	assert.Equal(t, "backend", p.Project)

	// Issues below the occurrence floor never cost a details request.
	assert.NotContains(t, paths, "/organizations/acme/issues/102/")
	assert.Contains(t, paths, "/organizations/acme/issues/103/")
}

func TestClient_ResolvedPatterns_NotConfigured(t *testing.T) {
	c := New(config.SentryConfig{BaseURL: "http://localhost:0", Organization: "acme"}, zap.NewNop())

	_, err := c.ResolvedPatterns(context.Background(), HistoryOptions{Projects: []string{"backend"}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_ResolvedPatterns_ToleratesDetailFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/organizations/acme/issues/" {
			fmt.Fprint(w, `[{"id": "101", "title": "KeyError: 'x'", "count": "150"}]`)
			return
		}
		http.Error(w, "flaky", http.StatusInternalServerError)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).ResolvedPatterns(context.Background(), HistoryOptions{
		Projects: []string{"backend"},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_ResolvedPatterns_ToleratesProjectSearchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/organizations/acme/issues/" && strings.Contains(r.URL.Query().Get("query"), "project:flaky"):
			http.Error(w, "down", http.StatusServiceUnavailable)
		case r.URL.Path == "/organizations/acme/issues/":
			fmt.Fprint(w, `[{"id": "101", "title": "KeyError: 'x'", "culprit": "app/views.py in handler", "count": "150"}]`)
		case r.URL.Path == "/organizations/acme/issues/101/":
			fmt.Fprint(w, `{"id": "101", "count": "150", "activity": [
				{"type": "set_resolved_in_commit", "data": {"commit": {"id": "abc", "message": "Fix it", "dateCreated": "2025-11-05T09:30:00Z"}}}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	// The failing project contributes nothing; the rest of the run proceeds.
	got, err := newTestClient(srv.URL).ResolvedPatterns(context.Background(), HistoryOptions{
		Projects: []string{"flaky", "backend"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "backend", got[0].Project)
	assert.Empty(t, got[0].CommitURL)
}

func TestResolutionCommit(t *testing.T) {
	commit := &Commit{ID: "abc123"}
	activity := []Activity{
		{Type: "note"},
		{Type: "set_resolved_in_commit"}, // commit payload missing
		{Type: "set_resolved_in_commit", Data: ActivityData{Commit: commit}},
	}

	assert.Same(t, commit, resolutionCommit(activity))
	assert.Nil(t, resolutionCommit([]Activity{{Type: "set_resolved"}}))
	assert.Nil(t, resolutionCommit(nil))
}

func TestHistoricalErrorType(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"KeyError: 'user_id'", "KeyError"},
		{"ImportError: No module named 'foo'", "ImportError"},
		{"django.db.utils.IntegrityError: duplicate key", "Unknown"},
		{"keyerror: lowercase does not count", "Unknown"},
		{"wrapped TypeError inside a message", "TypeError"},
		{"", "Unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, historicalErrorType(tt.title), "title %q", tt.title)
	}
}

func TestFixFromCommitMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "summary only",
			message: "Fix crash on empty cart",
			want:    "Fix crash on empty cart",
		},
		{
			name:    "detail section capped at three lines",
			message: "Fix crash\n\nfix: guard nil pointer\nmore detail\neven more\nnot included",
			want:    "Fix crash\nfix: guard nil pointer\nmore detail\neven more",
		},
		{
			name:    "prefix match is case-insensitive",
			message: "Refactor retries\nCHANGES: reorder init",
			want:    "Refactor retries\nCHANGES: reorder init",
		},
		{
			name:    "prefix on the summary line repeats it",
			message: "Fix: add retry\nwith backoff",
			want:    "Fix: add retry\nFix: add retry\nwith backoff",
		},
		{
			name:    "surrounding whitespace trimmed",
			message: "  Fix leak  \n\n",
			want:    "Fix leak",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fixFromCommitMessage(tt.message))
		})
	}
}

func TestParseSentryTime(t *testing.T) {
	want := time.Date(2025, 11, 5, 9, 30, 0, 0, time.UTC)
	assert.True(t, parseSentryTime("2025-11-05T09:30:00Z").Equal(want))
	assert.True(t, parseSentryTime("2025-11-05T09:30:00").Equal(want))
	assert.True(t, parseSentryTime("five minutes ago").IsZero())
	assert.True(t, parseSentryTime("").IsZero())
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 600)
	assert.Len(t, truncate(long, 500), 500)
	assert.Equal(t, "short", truncate("short", 500))
}

func TestHistoryOptions_Defaults(t *testing.T) {
	opts := HistoryOptions{}
	opts.applyDefaults()

	assert.Equal(t, 50, opts.MaxIssuesPerProject)
	assert.Equal(t, 20, opts.MinOccurrences)
	assert.Equal(t, 6, opts.MonthsBack)
}
