// Package prometheus contains the Prometheus-backed implementations of the
// metrics interfaces.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/opsim/pkg/metrics"
)

// openProtocolMetrics is the Prometheus implementation of
// metrics.OpenProtocolMetrics.
type openProtocolMetrics struct {
	connectionsAccepted *prometheus.CounterVec
	connectionsClosed   *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	frames              *prometheus.CounterVec
	eventsPublished     *prometheus.CounterVec
	pushedMessages      prometheus.Counter
	keepaliveTimeouts   *prometheus.CounterVec
}

// NewOpenProtocolMetrics creates a Prometheus-backed OpenProtocolMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewOpenProtocolMetrics() metrics.OpenProtocolMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &openProtocolMetrics{
		connectionsAccepted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsim_connections_accepted_total",
				Help: "Total number of accepted TCP connections by listener role",
			},
			[]string{"role"},
		),
		connectionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsim_connections_closed_total",
				Help: "Total number of closed TCP connections by listener role",
			},
			[]string{"role"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "opsim_active_sessions",
				Help: "Current number of connected protocol sessions",
			},
		),
		frames: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsim_frames_total",
				Help: "Total number of protocol frames by direction and MID",
			},
			[]string{"direction", "mid"},
		),
		eventsPublished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsim_events_published_total",
				Help: "Total number of injected simulation events by type",
			},
			[]string{"event_type"},
		),
		pushedMessages: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "opsim_pushed_messages_total",
				Help: "Total number of push frames fanned out to subscribers",
			},
		),
		keepaliveTimeouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsim_keepalive_timeouts_total",
				Help: "Total number of sessions closed by the keep-alive watchdog",
			},
			[]string{"role"},
		),
	}
}

func (m *openProtocolMetrics) RecordConnectionAccepted(role string) {
	m.connectionsAccepted.WithLabelValues(role).Inc()
}

func (m *openProtocolMetrics) RecordConnectionClosed(role string) {
	m.connectionsClosed.WithLabelValues(role).Inc()
}

func (m *openProtocolMetrics) SetActiveSessions(count int32) {
	m.activeSessions.Set(float64(count))
}

func (m *openProtocolMetrics) RecordFrame(direction, mid string) {
	m.frames.WithLabelValues(direction, mid).Inc()
}

func (m *openProtocolMetrics) RecordEventPublished(eventType string, pushed int) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
	m.pushedMessages.Add(float64(pushed))
}

func (m *openProtocolMetrics) RecordKeepaliveTimeout(role string) {
	m.keepaliveTimeouts.WithLabelValues(role).Inc()
}
