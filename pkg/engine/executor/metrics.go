package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	reg *prometheus.Registry

	spilledRuns   prometheus.Counter
	spilledBytes  prometheus.Counter
	parallelTasks prometheus.Counter
	shardReads    prometheus.Counter
	bloomSkipped  prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	return &metrics{
		reg: reg,

		spilledRuns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sealdb_executor_spilled_runs_total",
			Help: "Total number of sorted runs written to disk by external sorts.",
		}),
		spilledBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sealdb_executor_spilled_bytes_total",
			Help: "Total number of compressed bytes written to disk by external sorts.",
		}),
		parallelTasks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sealdb_executor_parallel_tasks_total",
			Help: "Total number of partition tasks run by parallel operators.",
		}),
		shardReads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sealdb_executor_shard_reads_total",
			Help: "Total number of key range shards read by shard scans.",
		}),
		bloomSkipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sealdb_executor_hash_join_bloom_skipped_total",
			Help: "Total number of probe rows rejected by the hash join bloom filter.",
		}),
	}
}

// Register registers metrics to report to reg.
func (m *metrics) Register(reg prometheus.Registerer) error { return reg.Register(m.reg) }

// Unregister unregisters metrics from the provided Registerer.
func (m *metrics) Unregister(reg prometheus.Registerer) { reg.Unregister(m.reg) }
