// Package metrics exposes Prometheus metrics for password policy checks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the policy validator's Prometheus collectors.
type Metrics struct {
	violations *prometheus.CounterVec
}

// New creates and registers the policy metrics on the default registry.
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
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attest_password_policy_violations_total",
			Help: "Password policy violations by rule.",
		}, []string{"rule"}),
	}
}

// ObserveViolation records one violated rule.
func (m *Metrics) ObserveViolation(rule string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(rule).Inc()
}
