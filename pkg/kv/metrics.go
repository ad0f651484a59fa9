package kv

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics is a container of metrics for an instrumented engine.
type metrics struct {
	// registry to collect metrics as a unit.
	reg *prometheus.Registry

	operationsTotal *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	breakerState    prometheus.Gauge

	operationSeconds *prometheus.HistogramVec
}

func newMetrics(backend string) *metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"backend": backend}

	return &metrics{
		reg: reg,

		operationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "sealdb_kv_operations_total",
			Help:        "Total number of storage operations by operation and status.",
			ConstLabels: constLabels,
		}, []string{"operation", "status"}),
		retriesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "sealdb_kv_retries_total",
			Help:        "Total number of retried storage operations.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		breakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name:        "sealdb_kv_circuit_breaker_state",
			Help:        "State of the storage circuit breaker (0 closed, 1 half-open, 2 open).",
			ConstLabels: constLabels,
		}),

		operationSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:        "sealdb_kv_operation_duration_seconds",
			Help:        "Time spent in storage operations, retries included.",
			ConstLabels: constLabels,

			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: time.Hour,
		}, []string{"operation"}),
	}
}

// Register registers metrics to report to reg.
func (m *metrics) Register(reg prometheus.Registerer) error { return reg.Register(m.reg) }

// Unregister unregisters metrics from the provided Registerer.
func (m *metrics) Unregister(reg prometheus.Registerer) { reg.Unregister(m.reg) }
