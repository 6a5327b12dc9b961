package oracle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "oracle",
			Name:      "conversations_total",
			Help:      "Total oracle conversations by operation and outcome",
		},
		[]string{"operation", "result"},
	)

	conversationTurns = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcad",
			Subsystem: "oracle",
			Name:      "conversation_turns",
			Help:      "Turns consumed per oracle conversation",
			Buckets:   prometheus.LinearBuckets(1, 2, 12),
		},
		[]string{"operation"},
	)

	toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "oracle",
			Name:      "tool_calls_total",
			Help:      "Total tool calls executed on the oracle's behalf",
		},
		[]string{"tool", "result"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcad",
			Subsystem: "oracle",
			Name:      "tokens_total",
			Help:      "Total tokens exchanged with the oracle by direction",
		},
		[]string{"direction"},
	)
)

// recordUsage accumulates token counts from one oracle response.
func recordUsage(input, output, cacheRead int64) {
	tokensTotal.WithLabelValues("input").Add(float64(input))
	tokensTotal.WithLabelValues("output").Add(float64(output))
	tokensTotal.WithLabelValues("cache_read").Add(float64(cacheRead))
}
