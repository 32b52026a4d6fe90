// Package metrics exposes Prometheus metrics for record resolution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the resolver's Prometheus collectors.
type Metrics struct {
	resolutions *prometheus.CounterVec
}

// New creates and registers the resolution metrics on the default registry.
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
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attest_verification_resolutions_total",
			Help: "Verification record resolutions by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveResolution records one resolution attempt.
func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}
