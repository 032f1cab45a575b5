package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is
// valid and records nothing, so tests can run without touching the global
// registry.
type Metrics struct {
	// Connection metrics
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	connectionsSwept    prometheus.Counter

	// Auth metrics
	authFailures prometheus.Counter

	// Command metrics
	commandsProcessed *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec

	// File transfer metrics
	fileBytes *prometheus.CounterVec
}

// NewMetrics creates a new metrics instance. Call at most once per process;
// promauto registers against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		activeConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "messaging_active_connections",
				Help: "Current number of registered connections",
			},
		),
		connectionsAccepted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "messaging_connections_accepted_total",
				Help: "Total number of connections admitted past authentication",
			},
		),
		connectionsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messaging_connections_rejected_total",
				Help: "Total number of rejected connections by reason",
			},
			[]string{"reason"}, // "capacity", "auth", "user_limit"
		),
		connectionsSwept: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "messaging_connections_swept_total",
				Help: "Total number of stale connections evicted by the sweep",
			},
		),
		authFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "messaging_auth_failures_total",
				Help: "Total number of failed authentication attempts",
			},
		),
		commandsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messaging_commands_total",
				Help: "Total number of processed commands by keyword",
			},
			[]string{"command"},
		),
		commandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "messaging_command_duration_seconds",
				Help:    "Time taken to process one command",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		fileBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messaging_file_bytes_total",
				Help: "Total decoded file bytes transferred by direction",
			},
			[]string{"direction"}, // "upload" or "download"
		),
	}
}

// RecordActiveConnections updates the registered connection count.
func (m *Metrics) RecordActiveConnections(count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

// RecordConnectionAccepted increments the admission counter.
func (m *Metrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

// RecordConnectionRejected increments the rejection counter for a reason.
func (m *Metrics) RecordConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

// RecordConnectionsSwept adds evicted stale connections.
func (m *Metrics) RecordConnectionsSwept(count int) {
	if m == nil || count == 0 {
		return
	}
	m.connectionsSwept.Add(float64(count))
}

// RecordAuthFailure increments the failed-authentication counter.
func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// RecordCommand records one processed command and its duration.
func (m *Metrics) RecordCommand(keyword string, seconds float64) {
	if m == nil {
		return
	}
	m.commandsProcessed.WithLabelValues(keyword).Inc()
	m.commandDuration.WithLabelValues(keyword).Observe(seconds)
}

// RecordFileBytes adds transferred (decoded) file bytes.
func (m *Metrics) RecordFileBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.fileBytes.WithLabelValues(direction).Add(float64(n))
}
