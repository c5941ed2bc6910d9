package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	UpstreamEvents  *prometheus.CounterVec
	UpstreamErrors  *prometheus.CounterVec
	RelayIndicators *prometheus.CounterVec
	ConnectLatency  prometheus.Histogram
	relayLatency    *relayLatency
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active guidance sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Client websocket frames by direction and type.",
		}, []string{"direction", "type"}),
		UpstreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_events_total",
			Help:      "Upstream realtime events relayed, by event type.",
		}, []string{"type"}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream realtime errors by code.",
		}, []string{"code"}),
		RelayIndicators: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_indicators_total",
			Help:      "One-off relay health indicators by name.",
		}, []string{"name"}),
		ConnectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_connect_latency_ms",
			Help:      "Latency to a ready upstream link in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1000, 2000, 5000, 10000},
		}),
		relayLatency: newRelayLatency(256),
	}
}

// ObserveRelayStage records a per-connection lifecycle latency into both
// the sliding window and, for the connect stage, the histogram.
func (m *Metrics) ObserveRelayStage(stage RelayStage, d time.Duration) {
	ms := float64(d.Milliseconds())
	m.relayLatency.Observe(stage, ms)
	if stage == StageUpstreamConnect {
		m.ConnectLatency.Observe(ms)
	}
}

// ObserveIndicator bumps a named relay health counter.
func (m *Metrics) ObserveIndicator(name string) {
	m.RelayIndicators.WithLabelValues(name).Inc()
}

// RelaySnapshot exposes the latency window for the debug endpoint.
func (m *Metrics) RelaySnapshot() RelayStageSnapshot {
	return m.relayLatency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
