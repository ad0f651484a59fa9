package physical

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	reg *prometheus.Registry

	optimizations   *prometheus.CounterVec
	plansConsidered prometheus.Counter
	missingStats    prometheus.Counter
	planCost        prometheus.Histogram
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	return &metrics{
		reg: reg,

		optimizations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sealdb_cbo_optimizations_total",
			Help: "Total number of physical plans produced, by status.",
		}, []string{"status"}),
		plansConsidered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sealdb_cbo_plans_considered_total",
			Help: "Total number of alternative plan nodes priced.",
		}),
		missingStats: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sealdb_cbo_missing_statistics_total",
			Help: "Total number of tables planned with default statistics.",
		}),
		planCost: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "sealdb_cbo_plan_cost",
			Help:    "Estimated total cost of the chosen plans.",
			Buckets: prometheus.ExponentialBuckets(1, 10, 8),
		}),
	}
}

// Register registers metrics to report to reg.
func (m *metrics) Register(reg prometheus.Registerer) error { return reg.Register(m.reg) }

// Unregister unregisters metrics from the provided Registerer.
func (m *metrics) Unregister(reg prometheus.Registerer) { reg.Unregister(m.reg) }
