package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total lifecycle events published to NATS",
		},
		[]string{"kind"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Total lifecycle events dropped on publish failure",
		},
		[]string{"kind"},
	)
)
