// Package store persists normalized monitoring events in SQLite.
//
// # Data Model
//
// Events hang off a hierarchy of agents, sessions and conversations, each
// addressed by an external string id and mapped to an integer key. Every
// event may carry one LLM or tool call record, a security record, any
// number of security alerts and a performance snapshot. Child rows
// reference their event with ON DELETE CASCADE, so deleting an event
// removes everything recorded for it.
//
// # Lifecycle
//
// A Store moves through uninitialized, initialized, verified, migrated and
// ready. Prepare runs the whole sequence:
//
//	st, err := store.Open(cfg.Storage, logger)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	report, err := st.Prepare(ctx)
//	if err != nil {
//	    log.Printf("schema: %s", report.Summary())
//	    return err
//	}
//
// VerifySchema compares the live schema against the expected one without
// modifying it. UpdateSchema only adds tables, columns and indexes; type
// mismatches are reported and left alone. ResetDatabase backs the file up
// with VACUUM INTO before dropping every table, and refuses to run
// without force.
//
// # Writes
//
// WriteEvent stores an event and all its records in one transaction.
// Write transactions are serialized inside the process and busy or locked
// failures are retried with exponential backoff. With WAL enabled, reads
// do not wait for writers.
//
// # Drivers
//
// The pure Go driver modernc.org/sqlite is registered as "sqlite" and is
// the default. github.com/mattn/go-sqlite3 is registered as "sqlite3" and
// needs cgo.
package store
