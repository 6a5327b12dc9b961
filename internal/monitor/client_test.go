package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8090")
	assert.Equal(t, "http://localhost:8090", client.baseURL)
	assert.NotNil(t, client.client)
}

func TestClient_Stats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rca/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sampleStats())
	}))
	defer srv.Close()

	stats, err := NewClient(srv.URL).Stats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 12, stats.Analyses.Total)
	assert.Equal(t, 4, stats.Analyses.PRsCreated)
	assert.Equal(t, "chromem", stats.Patterns.Mode)
}

func TestClient_Stats_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Stats(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code 500")
}

func TestClient_Stats_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Stats(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestClient_Queue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/discovery/queue", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sampleQueue())
	}))
	defer srv.Close()

	queue, err := NewClient(srv.URL).Queue(context.Background(), 10)

	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "1", queue[0].IssueID)
	assert.Equal(t, 80, queue[0].Priority)
	assert.False(t, queue[0].QueuedAt.IsZero())
}

func TestClient_PatternStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/patterns/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sampleStats().Patterns)
	}))
	defer srv.Close()

	stats, err := NewClient(srv.URL).PatternStats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 31, stats.TotalPatterns)
	assert.Equal(t, 4, stats.TotalAntiPatterns)
}

func TestClient_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL).Queue(ctx, 10)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}
