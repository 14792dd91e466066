// Package retention deletes monitored events once they pass the retention
// period.
//
// A cleanup run computes the cutoff as now minus the configured number of
// days and deletes older events in batches, each batch in its own
// transaction. With archive_before_delete set, expiring events are first
// appended to a JSON Lines file under archive_path and only the archived
// events are deleted. Agents, sessions and conversations left without any
// event are removed at the end of the run.
//
// The Scheduler runs cleanup on a standard five-field cron expression:
//
//	pruner := retention.NewPruner(st, cfg.Retention, collector, logger)
//	if err := pruner.Start(ctx); err != nil {
//	    return err
//	}
//	defer pruner.Stop()
package retention
