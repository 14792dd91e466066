// Package health provides liveness and readiness endpoints for the
// monitor's run mode.
//
// Liveness answers 200 while the process runs. Readiness runs every
// registered check concurrently, each under its own timeout, and answers
// 503 when any of them fails. The store check fails until the database is
// reachable and its schema has been verified.
//
//	checker := health.New(0)
//	checker.Register("store", health.StoreCheck(st))
//	checker.Mount(mux, cfg.Telemetry.Health, health.VersionInfo{Version: version})
package health
