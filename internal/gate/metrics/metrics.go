// Package metrics exposes Prometheus metrics for gate decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gate's Prometheus collectors.
type Metrics struct {
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// New creates and registers the gate metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(nil)
}

// NewWithRegistry registers on a custom registry; tests pass their own to
// avoid duplicate-registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attest_gate_decisions_total",
			Help: "Gate authorization decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attest_gate_decision_duration_seconds",
			Help:    "Latency of gate authorization decisions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// ObserveDecision records one gate decision.
func (m *Metrics) ObserveDecision(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(seconds)
}
