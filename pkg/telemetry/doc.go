// Package telemetry groups the monitor's own observability.
//
// # Components
//
//   - logging: structured slog logging that masks sensitive text with the
//     detection engine and adds agent, session and trace fields from context
//   - metrics: Prometheus counters for screening, storage and delivery
//   - health: liveness, readiness and version endpoints
//   - tracing: W3C traceparent propagation for forwarded events
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, logging.Options{Redactor: engine})
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//
//	checker := health.New(health.DefaultCheckTimeout)
//	checker.Register("store", health.StoreCheck(st))
//
//	mux := http.NewServeMux()
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//	checker.Mount(mux, cfg.Telemetry.Health, info)
package telemetry
