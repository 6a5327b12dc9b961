package codehost

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcad",
			Subsystem: "codehost",
			Name:      "call_duration_seconds",
			Help:      "Duration of GitHub API operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	callErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "codehost",
			Name:      "call_errors_total",
			Help:      "Total number of failed GitHub API operations",
		},
		[]string{"operation"},
	)
)

// observeCall returns a completion func recording duration and, when the
// named error is set by then, the failure:
//
//	defer observeCall("commit_file", &err)()
func observeCall(operation string, errp *error) func() {
	start := time.Now()
	return func() {
		callDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if errp != nil && *errp != nil {
			callErrors.WithLabelValues(operation).Inc()
		}
	}
}
