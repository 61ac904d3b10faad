// Package metrics exposes Prometheus counters for streams and subsystem
// restarts. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors of the HAL.
type Metrics struct {
	ActiveStreams    prometheus.Gauge
	StreamsCreated   prometheus.Counter
	StreamsDestroyed prometheus.Counter
	StateTransitions *prometheus.CounterVec
	DroppedBuffers   *prometheus.CounterVec
	SyntheticBytes   *prometheus.CounterVec
	TransportResets  prometheus.Counter
	SessionErrors    *prometheus.CounterVec
	CardTransitions  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "pal_active_streams",
			Help: "Current number of registered streams",
		}),
		StreamsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "pal_streams_created_total",
			Help: "Total number of streams created",
		}),
		StreamsDestroyed: f.NewCounter(prometheus.CounterOpts{
			Name: "pal_streams_destroyed_total",
			Help: "Total number of streams closed",
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pal_stream_state_transitions_total",
			Help: "Stream lifecycle transitions by target state",
		}, []string{"state"}),
		DroppedBuffers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pal_dropped_buffers_total",
			Help: "Buffers reported as transferred while the card was unavailable",
		}, []string{"direction"}),
		SyntheticBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pal_synthetic_bytes_total",
			Help: "Bytes absorbed with synthetic timing while the card was unavailable",
		}, []string{"direction"}),
		TransportResets: f.NewCounter(prometheus.CounterOpts{
			Name: "pal_transport_resets_total",
			Help: "Transport resets detected by streams",
		}),
		SessionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pal_session_errors_total",
			Help: "Session operation failures by operation",
		}, []string{"op"}),
		CardTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pal_card_transitions_total",
			Help: "Sound card state changes by new state",
		}, []string{"state"}),
	}
}

func (m *Metrics) StreamCreated() {
	if m == nil {
		return
	}
	m.StreamsCreated.Inc()
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamsDestroyed.Inc()
	m.ActiveStreams.Dec()
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

// Dropped records a buffer that was reported as transferred but never
// reached the hardware.
func (m *Metrics) Dropped(direction string, bytes int) {
	if m == nil {
		return
	}
	m.DroppedBuffers.WithLabelValues(direction).Inc()
	m.SyntheticBytes.WithLabelValues(direction).Add(float64(bytes))
}

func (m *Metrics) TransportReset() {
	if m == nil {
		return
	}
	m.TransportResets.Inc()
}

func (m *Metrics) SessionError(op string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) CardTransition(state string) {
	if m == nil {
		return
	}
	m.CardTransitions.WithLabelValues(state).Inc()
}
