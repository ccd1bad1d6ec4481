// Package metrics holds the Prometheus collectors of the real-time core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
	EventsPublished      *prometheus.CounterVec
	EventsDropped        *prometheus.CounterVec

	// Bot metrics
	BotRuns          *prometheus.CounterVec
	BotRunDuration   prometheus.Histogram
	ProviderRetries  prometheus.Counter
	BufferedMessages prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebSocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tavern_websocket_connections_active",
			Help: "Number of active WebSocket sessions",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tavern_realtime_events_total",
			Help: "Real-time events delivered to sessions by event type",
		}, []string{"event"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tavern_realtime_events_dropped_total",
			Help: "Real-time events that could not be queued on a session",
		}, []string{"event"}),
		BotRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tavern_bot_pipeline_runs_total",
			Help: "Bot response pipeline runs by outcome",
		}, []string{"outcome"}),
		BotRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tavern_bot_pipeline_duration_seconds",
			Help:    "Bot response pipeline latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		ProviderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tavern_provider_retries_total",
			Help: "Generation provider retries after rate limiting",
		}),
		BufferedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tavern_bot_buffered_messages_total",
			Help: "User messages accepted into bot buffers",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.WebSocketConnections,
			m.EventsPublished,
			m.EventsDropped,
			m.BotRuns,
			m.BotRunDuration,
			m.ProviderRetries,
			m.BufferedMessages,
		)
	}
	return m
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.WebSocketConnections.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.WebSocketConnections.Dec()
	}
}

func (m *Metrics) EventDelivered(event string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) EventDropped(event string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(event).Inc()
	}
}

// BotRun records one pipeline run.
func (m *Metrics) BotRun(outcome string, elapsed time.Duration) {
	if m != nil {
		m.BotRuns.WithLabelValues(outcome).Inc()
		m.BotRunDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ProviderRetry() {
	if m != nil {
		m.ProviderRetries.Inc()
	}
}

func (m *Metrics) MessageBuffered() {
	if m != nil {
		m.BufferedMessages.Inc()
	}
}
