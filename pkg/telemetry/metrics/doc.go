// Package metrics provides Prometheus metrics for the monitor.
//
// # Metrics Categories
//
//   - Detection: fields screened, matches by category and severity, alert
//     levels, blocked calls, rules skipped by the scan budget
//   - Storage: event writes by status and latency, records ingested,
//     events removed by retention
//   - Delivery: outcomes, queue depth, events dropped on overflow
//
// # Usage
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//
//	collector.RecordMatch("sensitive_data", "high")
//	collector.RecordStoreWrite("success", 3*time.Millisecond)
//
//	http.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// A nil *Collector is valid and records nothing.
//
// # Cardinality Management
//
// Pattern ids come from configuration and are unbounded, so the
// rules_skipped_total pattern label is capped; further ids are counted
// under "other".
package metrics
