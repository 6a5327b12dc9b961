package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "analysis",
			Name:      "analyses_total",
			Help:      "Analyses reaching a terminal state by result",
		},
		[]string{"result"},
	)

	analysesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rcad",
			Subsystem: "analysis",
			Name:      "in_flight",
			Help:      "Analyses currently holding a concurrency slot",
		},
	)

	analysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcad",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one analysis by result",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"result"},
	)

	prsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "analysis",
			Name:      "prs_total",
			Help:      "Pull-request round-trips by outcome",
		},
		[]string{"result"},
	)

	batchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "analysis",
			Name:      "batches_total",
			Help:      "Batch coordinations started",
		},
	)
)
