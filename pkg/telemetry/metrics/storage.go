package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics tracks event persistence and retention.
//
// Metrics:
//   - cylestio_store_writes_total: Event writes by status
//   - cylestio_store_write_duration_seconds: Event write latency
//   - cylestio_retention_deleted_total: Events removed by retention
//   - cylestio_ingest_records_total: Records received by source and outcome
type StorageMetrics struct {
	writesTotal      *prometheus.CounterVec
	writeDuration    prometheus.Histogram
	retentionDeleted prometheus.Counter
	ingestTotal      *prometheus.CounterVec
}

// NewStorageMetrics creates and registers storage metrics with the provided registry.
func NewStorageMetrics(namespace string, registry *prometheus.Registry) *StorageMetrics {
	sm := &StorageMetrics{
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_writes_total",
				Help:      "Total number of event writes",
			},
			[]string{"status"},
		),

		writeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_write_duration_seconds",
				Help:      "Duration of event write transactions in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
			},
		),

		retentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Total number of events deleted by retention",
			},
		),

		ingestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_records_total",
				Help:      "Total number of records received",
			},
			[]string{"source", "outcome"},
		),
	}

	registry.MustRegister(
		sm.writesTotal,
		sm.writeDuration,
		sm.retentionDeleted,
		sm.ingestTotal,
	)

	return sm
}
