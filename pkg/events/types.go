package events

import (
	"strings"
	"time"
)

// Channels used by the built-in adapters. Any upper-case name is accepted.
const (
	ChannelLLM      = "LLM"
	ChannelTool     = "TOOL"
	ChannelSystem   = "SYSTEM"
	ChannelSecurity = "SECURITY"
)

// Event levels.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelAlert   = "alert"
)

// Directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// BlockedSuffix tags the event type of a blocked call.
const BlockedSuffix = ".blocked"

// Kind selects which specialized record accompanies an event.
type Kind string

const (
	KindLLM     Kind = "llm"
	KindTool    Kind = "tool"
	KindGeneric Kind = "generic"
)

// Event is the central fact record. Agent, session and conversation are
// external identifiers; the store maps them to its own keys.
type Event struct {
	// ID is assigned by the store; zero before the event is written.
	ID int64 `json:"id,omitempty"`

	AgentID        string    `json:"agent_id"`
	SessionID      string    `json:"session_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	EventType      string    `json:"event_type"`
	Channel        string    `json:"channel"`
	Level          string    `json:"level"`
	Timestamp      time.Time `json:"timestamp"`
	Direction      string    `json:"direction,omitempty"`

	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`

	Kind Kind `json:"kind"`

	// Extra holds attributes not covered by a specialized record. String
	// values are masked.
	Extra map[string]any `json:"extra,omitempty"`
}

// Blocked reports whether the event records a blocked call.
func (e *Event) Blocked() bool {
	return strings.HasSuffix(e.EventType, BlockedSuffix)
}

// LLMCall holds the call-specific fields of an LLM event. Text is masked.
type LLMCall struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Response    string   `json:"response"`
	TokensIn    int      `json:"tokens_in,omitempty"`
	TokensOut   int      `json:"tokens_out,omitempty"`
	DurationMS  int64    `json:"duration_ms,omitempty"`
	IsStream    bool     `json:"is_stream"`
	Temperature *float64 `json:"temperature,omitempty"`
	Cost        float64  `json:"cost,omitempty"`
}

// ToolCall holds the call-specific fields of a tool event. Text is masked.
type ToolCall struct {
	ToolName     string `json:"tool_name"`
	InputParams  string `json:"input_params,omitempty"`
	OutputResult string `json:"output_result,omitempty"`
	Success      *bool  `json:"success,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	Blocking     bool   `json:"blocking"`
}

// EventSecurity is the per-event screening record.
type EventSecurity struct {
	AlertLevel   string   `json:"alert_level"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	SourceField  string   `json:"source_field,omitempty"`
}

// SecurityAlert is a human-actionable alert raised by an event.
type SecurityAlert struct {
	ID           int64     `json:"id,omitempty"`
	EventID      int64     `json:"event_id,omitempty"`
	AlertType    string    `json:"alert_type"`
	Severity     string    `json:"severity"`
	Description  string    `json:"description"`
	MatchedTerms []string  `json:"matched_terms,omitempty"`
	ActionTaken  string    `json:"action_taken,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// PerformanceMetric is a resource snapshot attached to an event.
type PerformanceMetric struct {
	MemoryUsage     int64   `json:"memory_usage,omitempty"`
	CPUUsage        float64 `json:"cpu_usage,omitempty"`
	DurationMS      int64   `json:"duration_ms,omitempty"`
	TokensProcessed int     `json:"tokens_processed,omitempty"`
	Cost            float64 `json:"cost,omitempty"`
}

// Normalized is an event together with its specialized records. At most
// one of LLMCall and ToolCall is set, matching Event.Kind.
type Normalized struct {
	Event       Event              `json:"event"`
	LLMCall     *LLMCall           `json:"llm_call,omitempty"`
	ToolCall    *ToolCall          `json:"tool_call,omitempty"`
	Security    *EventSecurity     `json:"security,omitempty"`
	Alerts      []SecurityAlert    `json:"alerts,omitempty"`
	Performance *PerformanceMetric `json:"performance,omitempty"`
}

// AlertLevel returns the event's alert level, "none" without a security record.
func (n *Normalized) AlertLevel() string {
	if n.Security == nil || n.Security.AlertLevel == "" {
		return "none"
	}
	return n.Security.AlertLevel
}
