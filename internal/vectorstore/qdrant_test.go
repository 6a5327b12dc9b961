package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantConfig_ApplyDefaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "rcad_patterns", cfg.Collection)
	assert.Equal(t, 384, cfg.VectorSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
}

func TestQdrantConfig_Validate(t *testing.T) {
	valid := QdrantConfig{Host: "localhost", Port: 6334, Collection: "patterns", VectorSize: 384}

	tests := []struct {
		name    string
		mutate  func(*QdrantConfig)
		wantErr bool
	}{
		{"valid", func(c *QdrantConfig) {}, false},
		{"missing host", func(c *QdrantConfig) { c.Host = "" }, true},
		{"zero port", func(c *QdrantConfig) { c.Port = 0 }, true},
		{"port too large", func(c *QdrantConfig) { c.Port = 70000 }, true},
		{"zero vector size", func(c *QdrantConfig) { c.VectorSize = 0 }, true},
		{"bad collection name", func(c *QdrantConfig) { c.Collection = "Bad-Name" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name          string
		code          codes.Code
		wantTransient bool
	}{
		{"unavailable is transient", codes.Unavailable, true},
		{"deadline exceeded is transient", codes.DeadlineExceeded, true},
		{"aborted is transient", codes.Aborted, true},
		{"resource exhausted is transient", codes.ResourceExhausted, true},
		{"invalid argument is not", codes.InvalidArgument, false},
		{"not found is not", codes.NotFound, false},
		{"permission denied is not", codes.PermissionDenied, false},
		{"unauthenticated is not", codes.Unauthenticated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := status.Error(tt.code, "test error")
			assert.Equal(t, tt.wantTransient, IsTransientError(err))
		})
	}

	t.Run("non-grpc error is not transient", func(t *testing.T) {
		assert.False(t, IsTransientError(errors.New("regular error")))
	})

	t.Run("nil error is not transient", func(t *testing.T) {
		assert.False(t, IsTransientError(nil))
	})
}

// retryStore builds a store with fast backoff and no client; retryOperation
// only touches config and circuit breaker state.
func retryStore(maxRetries, breakerThreshold int) *QdrantStore {
	cfg := QdrantConfig{
		Host:                    "localhost",
		Port:                    6334,
		Collection:              "patterns",
		VectorSize:              4,
		MaxRetries:              maxRetries,
		RetryBackoff:            time.Millisecond,
		CircuitBreakerThreshold: breakerThreshold,
	}
	return &QdrantStore{config: cfg}
}

func TestRetryOperation_PermanentErrorFailsImmediately(t *testing.T) {
	s := retryStore(3, 5)
	permanent := status.Error(codes.InvalidArgument, "bad request")

	calls := 0
	err := s.retryOperation(context.Background(), "upsert", func() error {
		calls++
		return permanent
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "permanent")
	assert.ErrorIs(t, err, permanent)
}

func TestRetryOperation_TransientErrorExhaustsRetries(t *testing.T) {
	s := retryStore(2, 10)
	transient := status.Error(codes.Unavailable, "connection refused")

	calls := 0
	err := s.retryOperation(context.Background(), "search", func() error {
		calls++
		return transient
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.ErrorIs(t, err, transient)
}

func TestRetryOperation_CircuitBreaker(t *testing.T) {
	s := retryStore(10, 3)
	transient := status.Error(codes.Unavailable, "down")

	calls := 0
	err := s.retryOperation(context.Background(), "upsert", func() error {
		calls++
		return transient
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, 4, calls) // threshold failures recorded, then fail fast

	// Circuit stays open for later operations until a success resets it.
	calls = 0
	err = s.retryOperation(context.Background(), "search", func() error {
		calls++
		return transient
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, 1, calls)

	// A success resets the failure count.
	err = s.retryOperation(context.Background(), "search", func() error { return nil })
	require.NoError(t, err)

	s.circuitBreaker.mu.Lock()
	failures := s.circuitBreaker.failures
	s.circuitBreaker.mu.Unlock()
	assert.Zero(t, failures)
}

func TestRetryOperation_ContextCancellation(t *testing.T) {
	s := retryStore(5, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.retryOperation(ctx, "scroll", func() error {
		return status.Error(codes.Unavailable, "down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildFilter(t *testing.T) {
	t.Run("empty filters yield nil", func(t *testing.T) {
		assert.Nil(t, buildFilter(nil))
		assert.Nil(t, buildFilter(map[string]interface{}{}))
	})

	t.Run("string values become keyword conditions", func(t *testing.T) {
		f := buildFilter(map[string]interface{}{
			"category": "antipattern",
			"count":    3, // non-string, skipped
		})
		require.NotNil(t, f)
		require.Len(t, f.Must, 1)

		field := f.Must[0].GetField()
		require.NotNil(t, field)
		assert.Equal(t, "category", field.Key)
		assert.Equal(t, "antipattern", field.Match.GetKeyword())
	})

	t.Run("only non-string values yield nil", func(t *testing.T) {
		assert.Nil(t, buildFilter(map[string]interface{}{"count": 3}))
	})
}

func TestPayloadToResult(t *testing.T) {
	payload := map[string]*qdrant.Value{
		"content":    {Kind: &qdrant.Value_StringValue{StringValue: "KeyError fix"}},
		"id":         {Kind: &qdrant.Value_StringValue{StringValue: "doc-1"}},
		"count":      {Kind: &qdrant.Value_IntegerValue{IntegerValue: 7}},
		"confidence": {Kind: &qdrant.Value_DoubleValue{DoubleValue: 0.9}},
		"active":     {Kind: &qdrant.Value_BoolValue{BoolValue: true}},
	}

	r := payloadToResult(payload, 0.42)
	assert.Equal(t, "doc-1", r.ID)
	assert.Equal(t, "KeyError fix", r.Content)
	assert.Equal(t, float32(0.42), r.Score)
	assert.Equal(t, int64(7), r.Metadata["count"])
	assert.Equal(t, 0.9, r.Metadata["confidence"])
	assert.Equal(t, true, r.Metadata["active"])

	t.Run("nil payload", func(t *testing.T) {
		r := payloadToResult(nil, 0.5)
		assert.Empty(t, r.ID)
		assert.Empty(t, r.Content)
		assert.Equal(t, float32(0.5), r.Score)
	})
}
