package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	queries   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inflight  prometheus.Gauge
	planCache *prometheus.CounterVec
	peakBytes prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		queries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sealdb_engine_queries_total",
			Help: "Total number of executed statements by statement type and final state.",
		}, []string{"type", "state"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sealdb_engine_phase_duration_seconds",
			Help:    "Time spent per query phase.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"phase"}),
		inflight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sealdb_engine_inflight_queries",
			Help: "Number of statements currently executing.",
		}),
		planCache: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sealdb_engine_plan_cache_lookups_total",
			Help: "Total number of plan cache lookups by result.",
		}, []string{"result"}),
		peakBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "sealdb_engine_query_peak_memory_bytes",
			Help:    "Peak memory held by the operators of a statement.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}
}
