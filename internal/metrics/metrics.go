// Package metrics exposes the proxy's internal counters as Prometheus
// instruments. The core never imports net/http itself — cmd/socks5d wires
// the Registry to a /metrics endpoint — keeping the core's scope limited to
// the session/server/resolver machinery.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels sessions by how they ended, for the sessions_total counter.
type Outcome string

const (
	OutcomeRelayClosed     Outcome = "relay_closed"
	OutcomeIdleEvicted     Outcome = "idle_evicted"
	OutcomeHandshakeFailed Outcome = "handshake_failed"
	OutcomeDNSFailed       Outcome = "dns_failed"
	OutcomeConnectFailed   Outcome = "connect_failed"
)

// Metrics bundles the instruments this proxy reports. A nil *Metrics is
// valid and every method becomes a no-op, so wiring metrics is optional.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    *prometheus.CounterVec
	bufferExhaustion prometheus.Counter
}

// New registers the proxy's instruments on reg and returns a Metrics handle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socks5_sessions_active",
			Help: "Number of SOCKS5 sessions currently live.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socks5_sessions_total",
			Help: "Total SOCKS5 sessions, by how they ended.",
		}, []string{"outcome"}),
		bufferExhaustion: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socks5_buffer_pool_exhausted_total",
			Help: "Times a session was dropped because the buffer pool was exhausted.",
		}),
	}

	reg.MustRegister(m.sessionsActive, m.sessionsTotal, m.bufferExhaustion)
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionEnded(outcome Outcome) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) BufferPoolExhausted() {
	if m == nil {
		return
	}
	m.bufferExhaustion.Inc()
}
