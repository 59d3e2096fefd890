package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments published for a device handler,
// grounded on the promauto-registration pattern used elsewhere in the
// example pack. This is an ambient observability surface, independent of
// any client-facing protocol.
type Metrics struct {
	State                 *prometheus.GaugeVec
	RequestsTotal         prometheus.Counter
	RequestsFailedTotal   prometheus.Counter
	ReconnectTotal        prometheus.Counter
	HeartbeatMismatches   prometheus.Gauge
	StateTransitionsTotal prometheus.Counter

	last DeviceStatsSnapshot
}

// NewMetrics registers a fresh set of instruments against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scrutiny_device_state",
			Help: "Current top-level device handler state (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scrutiny_requests_total",
			Help: "Total number of requests completed by the comm handler.",
		}),
		RequestsFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scrutiny_requests_failed_total",
			Help: "Total number of requests completed with a failure.",
		}),
		ReconnectTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scrutiny_reconnects_total",
			Help: "Total number of times the device handler returned to Init from a link failure.",
		}),
		HeartbeatMismatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scrutiny_heartbeat_mismatches",
			Help: "Cumulative count of heartbeat challenge/response mismatches observed.",
		}),
		StateTransitionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scrutiny_state_transitions_total",
			Help: "Total number of top-level FSM state transitions.",
		}),
	}
}

var allStates = []State{
	StateInit, StateWaitCommLink, StateWaitCleanState, StateDiscovering,
	StateConnecting, StatePollingInfo, StateWaitDataloggingReady, StateReady,
	StateDisconnecting,
}

// Update publishes h's current state and counters onto m. Call it on a
// regular interval from the daemon's metrics loop.
func (m *Metrics) Update(h *Handler) {
	current := h.State()
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.State.WithLabelValues(s.String()).Set(v)
	}

	snap := h.Stats()
	m.HeartbeatMismatches.Set(float64(snap.HeartbeatMissed))

	// Counters only move forward; diff against the last published snapshot
	// so repeated Update calls add deltas instead of resetting the counter.
	if d := snap.RequestsSent - m.last.RequestsSent; d > 0 {
		m.RequestsTotal.Add(float64(d))
	}
	if d := snap.RequestsFailed - m.last.RequestsFailed; d > 0 {
		m.RequestsFailedTotal.Add(float64(d))
	}
	if d := snap.ReconnectCount - m.last.ReconnectCount; d > 0 {
		m.ReconnectTotal.Add(float64(d))
	}
	if d := snap.StateTransitions - m.last.StateTransitions; d > 0 {
		m.StateTransitionsTotal.Add(float64(d))
	}
	m.last = snap
}
