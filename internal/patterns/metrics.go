package patterns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache outcome label values.
const (
	cacheHit   = "hit"
	cacheMiss  = "miss"
	cacheError = "error"
)

var (
	cacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "patterns",
			Name:      "reads_total",
			Help:      "Pattern text reads by cache outcome",
		},
		[]string{"result"},
	)

	patternsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "patterns",
			Name:      "stored_total",
			Help:      "Pattern records written by category",
		},
		[]string{"category"},
	)

	storeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "patterns",
			Name:      "store_failures_total",
			Help:      "Pattern writes that failed and were swallowed",
		},
	)

	bootstrapLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rcad",
			Subsystem: "patterns",
			Name:      "bootstrap_loaded",
			Help:      "Patterns inserted by the most recent bootstrap run",
		},
	)
)
