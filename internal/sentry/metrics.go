package sentry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcad",
			Subsystem: "sentry",
			Name:      "request_duration_seconds",
			Help:      "Duration of Sentry API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	requestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "sentry",
			Name:      "request_errors_total",
			Help:      "Total number of failed Sentry API requests",
		},
		[]string{"endpoint"},
	)
)

// observeRequest returns a completion func recording duration and, when the
// named error is set by then, the failure:
//
//	defer observeRequest("issues", &err)()
func observeRequest(endpoint string, errp *error) func() {
	start := time.Now()
	return func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if errp != nil && *errp != nil {
			requestErrors.WithLabelValues(endpoint).Inc()
		}
	}
}
