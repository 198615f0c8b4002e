// Package metrics exposes Prometheus counters for the fingerprint service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service counters. Each instance owns its registry so
// several servers can coexist in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	Lookups     *prometheus.CounterVec
	Submissions *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaid_lookups_total",
				Help: "Hash lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaid_submissions_total",
				Help: "Accepted hash submissions by merge action",
			},
			[]string{"action"},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaid_rejections_total",
				Help: "Rejected requests by reason (validation, storage)",
			},
			[]string{"reason"},
		),
	}
}

// Lookup counts a hash query outcome. Safe on a nil receiver.
func (m *Metrics) Lookup(result string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(result).Inc()
}

// Submission counts an accepted submission by merge action.
func (m *Metrics) Submission(action string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(action).Inc()
}

// Rejection counts a refused request.
func (m *Metrics) Rejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
