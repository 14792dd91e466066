// Package logging builds the monitor's slog loggers.
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, logging.Options{
//	    Redactor: engine,
//	})
//	storeLogger := logger.With("component", "store")
//
//	ctx = logging.WithAgentID(ctx, "agent-1")
//	storeLogger.InfoContext(ctx, "event stored", "event_id", id)
//
// Records logged with a context carry agent_id, session_id and
// conversation_id when set, plus trace_id and span_id from the active
// OpenTelemetry span.
//
// # Redaction
//
// With redact enabled, string and error values pass through the
// Redactor before they are written, so logs are masked with the same
// patterns as stored events. Identifier fields such as component,
// agent_id and trace_id are left as they are.
package logging
