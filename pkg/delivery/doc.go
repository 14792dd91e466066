// Package delivery forwards monitored events to a remote collector.
//
// Each stored event is converted to its telemetry envelope and queued;
// worker goroutines POST envelopes as JSON with an Idempotency-Key header
// that stays the same across retries. Delivery never fails ingestion:
//
//   - a full queue either drops its oldest entry (drop_oldest) or makes
//     Enqueue wait for room (block)
//   - transport errors, 5xx, 408 and 429 responses are retried with
//     exponential backoff up to max_attempts
//   - other 4xx responses fail at once
//   - events that cannot be delivered are logged, counted and appended to
//     the dead-letter file
//
// Usage:
//
//	sender, err := delivery.New(cfg.Delivery, collector, logger)
//	sender.Start(ctx)
//	defer sender.Close(shutdownCtx)
//
//	_ = sender.Enqueue(ctx, normalized)
package delivery
