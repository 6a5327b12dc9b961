package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcad",
			Subsystem: "embeddings",
			Name:      "generation_duration_seconds",
			Help:      "Duration of embedding generation in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"provider", "operation"},
	)

	generationBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcad",
			Subsystem: "embeddings",
			Name:      "batch_size",
			Help:      "Number of texts per embedding batch request",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"provider", "operation"},
	)

	generationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "embeddings",
			Name:      "errors_total",
			Help:      "Total embedding generation errors",
		},
		[]string{"provider", "operation"},
	)
)

// recordGeneration records one embedding call's outcome.
func recordGeneration(provider, operation string, d time.Duration, batch int, err error) {
	generationDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
	generationBatchSize.WithLabelValues(provider, operation).Observe(float64(batch))
	if err != nil {
		generationErrors.WithLabelValues(provider, operation).Inc()
	}
}
