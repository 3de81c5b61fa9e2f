package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat service metrics
var (
	ThrottledRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "karmika",
			Subsystem: "chat",
			Name:      "throttled_requests_total",
			Help:      "Requests rejected by sliding-window admission control",
		},
		[]string{"class"},
	)

	IntentOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "karmika",
			Subsystem: "chat",
			Name:      "intent_outcomes_total",
			Help:      "Intent classification outcomes by label and source",
		},
		[]string{"label", "source"},
	)

	RecordLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "karmika",
			Subsystem: "chat",
			Name:      "record_lookups_total",
			Help:      "Board record lookups by resolution path",
		},
		[]string{"result"},
	)

	StreamOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "karmika",
			Subsystem: "chat",
			Name:      "stream_outcomes_total",
			Help:      "Terminal outcomes of streaming message requests",
		},
		[]string{"outcome"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "karmika",
			Subsystem: "chat",
			Name:      "llm_request_duration_seconds",
			Help:      "LLM call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation", "backend"},
	)

	VectorQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "karmika",
			Subsystem: "chat",
			Name:      "vector_query_duration_seconds",
			Help:      "Vector store query duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	ThreadLocksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "karmika",
			Subsystem: "chat",
			Name:      "thread_locks_active",
			Help:      "Entries currently held by the thread lock registry",
		},
	)
)

// RecordThrottle records a rejected request for the given method class.
func RecordThrottle(class string) {
	ThrottledRequestsTotal.WithLabelValues(class).Inc()
}

// RecordIntent records a classification outcome.
func RecordIntent(label, source string) {
	IntentOutcomesTotal.WithLabelValues(label, source).Inc()
}

// RecordLookup records how a board record lookup was resolved
// (cache, redis, fetched, failed).
func RecordLookup(result string) {
	RecordLookupsTotal.WithLabelValues(result).Inc()
}

// RecordStreamOutcome records the terminal outcome of a streamed reply.
func RecordStreamOutcome(outcome string) {
	StreamOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveLLM records the duration of an LLM call.
func ObserveLLM(operation, backend string, seconds float64) {
	LLMRequestDuration.WithLabelValues(operation, backend).Observe(seconds)
}
