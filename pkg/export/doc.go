// Package export writes stored events to JSON, JSON lines or CSV.
//
// JSON output is always an array. JSON lines output writes one event per
// line and, with Telemetry set, uses the telemetry envelope that is also
// sent to remote collectors. CSV flattens an event and its LLM, tool and
// security records into one row.
//
// Exporters are used by the CLI and by retention archiving.
package export
