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

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// LiveQueriesActive tracks active document-store query subscriptions.
	LiveQueriesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_live_queries_active",
			Help: "Active live query subscriptions against the document store",
		},
		[]string{"collection"},
	)

	// ChatSessionsActive tracks active chat sessions.
	ChatSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of active chat sessions",
		},
	)

	// MessagesTotal tracks total messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total chat messages sent",
		},
		[]string{"role"},
	)

	// ReadMarksTotal tracks mark-read operations.
	ReadMarksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_read_marks_total",
			Help: "Total mark-read operations",
		},
		[]string{"role", "outcome"},
	)

	// UnreadRefreshesTotal tracks one-shot unread recomputations.
	UnreadRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_unread_refreshes_total",
			Help: "Total one-shot unread total recomputations",
		},
	)

	// PageLoadsTotal tracks message page loads by kind (latest, older).
	PageLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_page_loads_total",
			Help: "Total message page loads",
		},
		[]string{"kind"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
