package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend label values for metrics.
const (
	backendChromem = "chromem"
	backendQdrant  = "qdrant"
)

var (
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcad",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	operationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector store operations",
		},
		[]string{"backend", "operation"},
	)

	documentCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rcad",
			Subsystem: "vectorstore",
			Name:      "documents_stored",
			Help:      "Number of documents in the configured collection",
		},
		[]string{"backend"},
	)
)

// observeOperation returns a completion func that records duration and,
// on error, increments the error counter. Use with a named error return so
// the deferred call sees the final error value:
//
//	defer observeOperation(backendChromem, "search", &err)()
func observeOperation(backend, operation string, errp *error) func() {
	start := time.Now()
	return func() {
		operationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
		if errp != nil && *errp != nil {
			operationErrors.WithLabelValues(backend, operation).Inc()
		}
	}
}

func setDocumentCount(backend string, count int) {
	documentCount.WithLabelValues(backend).Set(float64(count))
}
