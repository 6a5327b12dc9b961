package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	scanOK    = "ok"
	scanError = "error"
)

var (
	scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcad",
		Subsystem: "discovery",
		Name:      "scans_total",
		Help:      "Discovery scans by result.",
	}, []string{"result"})

	issuesFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcad",
		Subsystem: "discovery",
		Name:      "issues_found_total",
		Help:      "Issues that passed the occurrence filter across all scans.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rcad",
		Subsystem: "discovery",
		Name:      "queue_depth",
		Help:      "Current number of entries in the discovery queue.",
	})
)
