package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/brand-radar/internal/resilience"
)

// Metrics records provider call outcomes.
type Metrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	tokens  *prometheus.CounterVec
	circuit *prometheus.GaugeVec
}

// NewMetrics registers gateway collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brand_radar",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Provider calls by outcome.",
		}, []string{"provider", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brand_radar",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 90},
		}, []string{"provider"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brand_radar",
			Subsystem: "gateway",
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"provider", "direction"}),
		circuit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "brand_radar",
			Subsystem: "gateway",
			Name:      "circuit_state",
			Help:      "Circuit state per provider (0 closed, 1 open, 2 half-open).",
		}, []string{"provider"}),
	}
	reg.MustRegister(m.calls, m.latency, m.tokens, m.circuit)
	return m
}

func (m *Metrics) observe(provider, outcome string, seconds float64, in, out int) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(provider, outcome).Inc()
	m.latency.WithLabelValues(provider).Observe(seconds)
	if in > 0 {
		m.tokens.WithLabelValues(provider, "input").Add(float64(in))
	}
	if out > 0 {
		m.tokens.WithLabelValues(provider, "output").Add(float64(out))
	}
}

func (m *Metrics) setCircuit(provider string, state resilience.CircuitState) {
	if m == nil {
		return
	}
	m.circuit.WithLabelValues(provider).Set(float64(state))
}
