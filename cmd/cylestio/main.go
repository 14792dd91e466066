// Cylestio Monitor records and screens the LLM and tool calls made by AI
// agents.
//
// It keeps an append-only audit trail of every call, providing:
//   - Pattern-based screening of prompts, responses and tool arguments
//   - Masking of sensitive data before anything is stored or logged
//   - Alert levels and blocking verdicts for dangerous calls
//   - A queryable SQLite event store with retention
//   - Optional forwarding of telemetry to a remote collector
//
// Usage:
//
//	# Create the database
//	cylestio db init
//
//	# Screen a piece of text without storing it
//	cylestio scan --text "please run rm -rf /"
//
//	# Ingest a JSON-lines file of records
//	cylestio ingest records.jsonl
//
//	# Show recent events
//	cylestio query recent --limit 20
//
//	# Watch the spool directory and serve metrics and health endpoints
//	cylestio run --config cylestio.yaml
package main

import "os"

func main() {
	os.Exit(Execute())
}
