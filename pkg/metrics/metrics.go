// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMRequestDuration tracks LLM completion duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90},
		},
		[]string{"provider", "method", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// GenerationFallbacksTotal counts generation calls recovered with a
	// deterministic fallback value.
	GenerationFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_fallbacks_total",
			Help: "Generation calls recovered with a fallback value",
		},
		[]string{"site"},
	)

	// TestRunsTotal tracks completed testing runs by outcome.
	TestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_runs_total",
			Help: "Completed testing runs",
		},
		[]string{"session_type", "outcome"},
	)

	// IterationsTotal tracks completed iterations.
	IterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iterations_total",
			Help: "Completed testing iterations",
		},
	)

	// IterationScore observes per-iteration average scores.
	IterationScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iteration_average_score",
			Help:    "Average score per completed iteration",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 95, 100},
		},
	)

	// ConversationsSimulated counts simulated conversations.
	ConversationsSimulated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_simulated_total",
			Help: "Simulated conversations",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records one LLM completion. method is "complete" or
// "stream".
func RecordLLMRequest(provider, method, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(provider, method, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
}

// RecordFallback records a generation call recovered with a fallback.
func RecordFallback(site string) {
	GenerationFallbacksTotal.WithLabelValues(site).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
