package rbo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	reg *prometheus.Registry

	ruleApplications *prometheus.CounterVec
	optimizations    *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	return &metrics{
		reg: reg,

		ruleApplications: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sealdb_rbo_rule_applications_total",
			Help: "Total number of times a rewrite rule changed a plan.",
		}, []string{"rule"}),
		optimizations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sealdb_rbo_optimizations_total",
			Help: "Total number of logical plans optimized, by status.",
		}, []string{"status"}),
	}
}

// Register registers metrics to report to reg.
func (m *metrics) Register(reg prometheus.Registerer) error { return reg.Register(m.reg) }

// Unregister unregisters metrics from the provided Registerer.
func (m *metrics) Unregister(reg prometheus.Registerer) { reg.Unregister(m.reg) }
