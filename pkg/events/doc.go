// Package events defines the canonical event model and the normalizer that
// builds it from adapter records.
//
// An adapter submits a RawRecord: event type, channel, level, timestamp,
// agent/session/conversation identifiers and a map of named text fields.
// After the fields are screened by the detection package, Normalizer
// produces a Normalized value:
//
//   - Event with a 32-hex trace id (from the record, the OpenTelemetry span
//     context in ctx, or freshly generated) and a fresh 16-hex span id
//   - LLMCall or ToolCall holding masked text only
//   - EventSecurity when any field matched
//   - SecurityAlert records for dangerous fields and for suspicious fields in
//     alert-worthy categories
//   - PerformanceMetric when the record carries one
//
// A blocked call keeps flowing as data: its event type gets the ".blocked"
// suffix and its level becomes "alert".
//
// ToEnvelope renders a Normalized value as the JSON telemetry envelope with
// namespaced attributes such as llm.request.model and tool.name.
package events
