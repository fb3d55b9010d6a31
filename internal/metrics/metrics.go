// Package metrics exposes Prometheus instrumentation for the capture
// engine. A nil *Metrics disables recording, so tests and the plain CLI can
// skip registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture engine.
type Metrics struct {
	ChunksEmitted    prometheus.Counter
	BytesCaptured    prometheus.Counter
	ConversionErrors prometheus.Counter
	OpenAttempts     prometheus.Counter
	OpenFailures     prometheus.Counter
	ActiveSessions   prometheus.Gauge
	DroppedEvents    prometheus.Counter
}

// New creates and registers the engine metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiotap_chunks_emitted_total",
			Help: "Total number of processed audio chunks handed to consumers",
		}),
		BytesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiotap_bytes_captured_total",
			Help: "Total raw bytes drained from capture devices",
		}),
		ConversionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiotap_conversion_errors_total",
			Help: "Total chunks dropped because the source format was unsupported",
		}),
		OpenAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiotap_open_attempts_total",
			Help: "Total device acquisition attempts, retries included",
		}),
		OpenFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiotap_open_failures_total",
			Help: "Total sessions that failed to open after all retries",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "audiotap_active_sessions",
			Help: "Number of capture sessions currently running",
		}),
		DroppedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiotap_dropped_events_total",
			Help: "Total events dropped because a consumer queue was full",
		}),
	}
}

// RecordChunk records one emitted chunk of the given raw size.
func (m *Metrics) RecordChunk(rawBytes int) {
	if m == nil {
		return
	}
	m.ChunksEmitted.Inc()
	m.BytesCaptured.Add(float64(rawBytes))
}

// RecordConversionError counts a chunk dropped by the converter.
func (m *Metrics) RecordConversionError() {
	if m == nil {
		return
	}
	m.ConversionErrors.Inc()
}

// RecordOpenAttempt counts one acquisition attempt.
func (m *Metrics) RecordOpenAttempt() {
	if m == nil {
		return
	}
	m.OpenAttempts.Inc()
}

// RecordOpenFailure counts a session that exhausted its retries.
func (m *Metrics) RecordOpenFailure() {
	if m == nil {
		return
	}
	m.OpenFailures.Inc()
}

// SessionStarted and SessionEnded track the active-session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordDroppedEvent counts an event discarded on a full consumer queue.
func (m *Metrics) RecordDroppedEvent() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}
