// Package ingest is the entry point for intercepted calls.
//
// A Monitor runs each RawRecord through the pipeline:
//
//	screen fields -> normalize -> store (one transaction) -> queue for delivery
//
// Every named text field is screened by the detection engine; only masked
// text reaches the store. A dangerous classification in a blocking
// category marks the Result as Blocked so the adapter can stop the call;
// the event is still stored with a ".blocked" event type.
//
//	monitor, err := ingest.New(ctx, cfg, ingest.Options{Metrics: collector, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer monitor.Close(ctx)
//
//	res, err := monitor.Ingest(ctx, rec)
//	if res.Blocked {
//	    return errCallBlocked
//	}
//
// # Spool Files
//
// Adapters in other processes write JSON-lines files into spool_dir. The
// SpoolWatcher picks up files matching the configured pattern with
// fsnotify, validates each line against an embedded JSON schema, ingests
// it and renames the file to *.done, or *.failed when any line was
// rejected. Writers should create files under another name and rename
// them into place once complete.
package ingest
