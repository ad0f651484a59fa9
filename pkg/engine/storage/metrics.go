package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	reg *prometheus.Registry

	operations   *prometheus.CounterVec
	rowsRead     prometheus.Counter
	rowsWritten  prometheus.Counter
	transactions *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	return &metrics{
		reg: reg,

		operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sealdb_storage_operations_total",
			Help: "Total number of storage bridge operations, by kind and status.",
		}, []string{"kind", "status"}),
		rowsRead: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sealdb_storage_rows_read_total",
			Help: "Total number of rows decoded from the key-value engine.",
		}),
		rowsWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sealdb_storage_rows_written_total",
			Help: "Total number of rows written or deleted.",
		}),
		transactions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sealdb_storage_transactions_total",
			Help: "Total number of transactions, by outcome.",
		}, []string{"outcome"}),
	}
}

// Register registers metrics to report to reg.
func (m *metrics) Register(reg prometheus.Registerer) error { return reg.Register(m.reg) }

// Unregister unregisters metrics from the provided Registerer.
func (m *metrics) Unregister(reg prometheus.Registerer) { reg.Unregister(m.reg) }

func (m *metrics) observe(kind OperationKind, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(kind.String(), status).Inc()
}
