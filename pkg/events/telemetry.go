package events

import (
	"encoding/json"
	"time"
)

// Envelope is the JSON telemetry form of an event, sent to remote
// collectors and written by the export commands.
type Envelope struct {
	Timestamp    time.Time      `json:"timestamp"`
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	Level        string         `json:"level"`
	AgentID      string         `json:"agent_id"`
	Attributes   map[string]any `json:"attributes"`
}

// ToEnvelope builds the telemetry envelope for n. Attribute keys are
// namespaced by record kind: llm.*, tool.*, security.*, performance.*.
func ToEnvelope(n *Normalized) Envelope {
	ev := n.Event
	attrs := map[string]any{
		"event.channel": ev.Channel,
	}
	if ev.Direction != "" {
		attrs["event.direction"] = ev.Direction
	}
	if ev.SessionID != "" {
		attrs["session.id"] = ev.SessionID
	}
	if ev.ConversationID != "" {
		attrs["conversation.id"] = ev.ConversationID
	}

	if c := n.LLMCall; c != nil {
		attrs["llm.request.model"] = c.Model
		attrs["llm.request.stream"] = c.IsStream
		if c.Temperature != nil {
			attrs["llm.request.temperature"] = *c.Temperature
		}
		if c.Prompt != "" {
			attrs["llm.request.prompt"] = c.Prompt
		}
		if c.Response != "" {
			attrs["llm.response.content"] = c.Response
		}
		if c.TokensIn > 0 {
			attrs["llm.usage.input_tokens"] = c.TokensIn
		}
		if c.TokensOut > 0 {
			attrs["llm.usage.output_tokens"] = c.TokensOut
		}
		if c.DurationMS > 0 {
			attrs["llm.response.duration_ms"] = c.DurationMS
		}
		if c.Cost > 0 {
			attrs["llm.usage.cost"] = c.Cost
		}
	}

	if c := n.ToolCall; c != nil {
		attrs["tool.name"] = c.ToolName
		attrs["tool.blocking"] = c.Blocking
		if c.InputParams != "" {
			attrs["tool.params"] = c.InputParams
		}
		if c.OutputResult != "" {
			attrs["tool.result"] = c.OutputResult
		}
		if c.Success != nil {
			attrs["tool.success"] = *c.Success
		}
		if c.DurationMS > 0 {
			attrs["tool.duration_ms"] = c.DurationMS
		}
		if c.ErrorMessage != "" {
			attrs["error.type"] = "tool_error"
			attrs["error.message"] = c.ErrorMessage
		}
	}

	if s := n.Security; s != nil {
		attrs["security.alert_level"] = s.AlertLevel
		attrs["security.matched_terms"] = s.MatchedTerms
		attrs["security.reason"] = s.Reason
		attrs["security.source_field"] = s.SourceField
	}
	if ev.Blocked() {
		attrs["security.blocked"] = true
	}

	if p := n.Performance; p != nil {
		if p.MemoryUsage > 0 {
			attrs["performance.memory_bytes"] = p.MemoryUsage
		}
		if p.CPUUsage > 0 {
			attrs["performance.cpu_percent"] = p.CPUUsage
		}
		if p.DurationMS > 0 {
			attrs["performance.duration_ms"] = p.DurationMS
		}
		if p.TokensProcessed > 0 {
			attrs["performance.tokens"] = p.TokensProcessed
		}
		if p.Cost > 0 {
			attrs["performance.cost"] = p.Cost
		}
	}

	for k, v := range ev.Extra {
		if _, taken := attrs[k]; !taken {
			attrs[k] = v
		}
	}

	return Envelope{
		Timestamp:    ev.Timestamp,
		TraceID:      ev.TraceID,
		SpanID:       ev.SpanID,
		ParentSpanID: ev.ParentSpanID,
		Name:         ev.EventType,
		Level:        ev.Level,
		AgentID:      ev.AgentID,
		Attributes:   attrs,
	}
}

// MarshalEnvelope returns the JSON telemetry form of n.
func MarshalEnvelope(n *Normalized) ([]byte, error) {
	return json.Marshal(ToEnvelope(n))
}
