package events

import (
	"strings"
	"time"
)

// RawRecord is what an adapter hands to the ingestion entry point.
type RawRecord struct {
	EventType      string    `json:"event_type"`
	Channel        string    `json:"channel"`
	Level          string    `json:"level,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	AgentID        string    `json:"agent_id"`
	SessionID      string    `json:"session_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	TraceID        string    `json:"trace_id,omitempty"`
	ParentSpanID   string    `json:"parent_span_id,omitempty"`
	Direction      string    `json:"direction,omitempty"`

	// Fields are the named text fields to screen: prompt, response,
	// arguments, result, error, or any other name.
	Fields map[string]string `json:"fields,omitempty"`

	LLM         *LLMInfo         `json:"llm,omitempty"`
	Tool        *ToolInfo        `json:"tool,omitempty"`
	Performance *PerformanceInfo `json:"performance,omitempty"`

	// Attributes are free-form values carried into Event.Extra.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LLMInfo carries structured LLM call data.
type LLMInfo struct {
	Model       string   `json:"model"`
	TokensIn    int      `json:"tokens_in,omitempty"`
	TokensOut   int      `json:"tokens_out,omitempty"`
	DurationMS  int64    `json:"duration_ms,omitempty"`
	Cost        float64  `json:"cost,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ToolInfo carries structured tool call data.
type ToolInfo struct {
	Name       string `json:"name"`
	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Blocking   bool   `json:"blocking,omitempty"`
}

// PerformanceInfo carries a resource snapshot.
type PerformanceInfo struct {
	MemoryBytes int64   `json:"memory_bytes,omitempty"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
	DurationMS  int64   `json:"duration_ms,omitempty"`
	Tokens      int     `json:"tokens,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
}

// Well-known field names.
const (
	FieldPrompt    = "prompt"
	FieldResponse  = "response"
	FieldArguments = "arguments"
	FieldResult    = "result"
	FieldErrorText = "error"
)

var validLevels = map[string]bool{
	LevelDebug: true, LevelInfo: true, LevelWarning: true, LevelError: true, LevelAlert: true,
}

// Validate checks the record's required fields and identifier formats.
// It returns a *ValidationError listing every problem.
func (r *RawRecord) Validate() error {
	var errs []FieldError

	if strings.TrimSpace(r.AgentID) == "" {
		errs = append(errs, FieldError{Field: "agent_id", Message: "is required"})
	}
	if strings.TrimSpace(r.EventType) == "" {
		errs = append(errs, FieldError{Field: "event_type", Message: "is required"})
	}
	if strings.TrimSpace(r.Channel) == "" {
		errs = append(errs, FieldError{Field: "channel", Message: "is required"})
	}
	if r.Timestamp.IsZero() {
		errs = append(errs, FieldError{Field: "timestamp", Message: "is required"})
	}
	if r.Level != "" && !validLevels[strings.ToLower(r.Level)] {
		errs = append(errs, FieldError{Field: "level", Message: "must be one of debug, info, warning, error, alert"})
	}
	if d := strings.ToLower(r.Direction); d != "" && d != DirectionInbound && d != DirectionOutbound {
		errs = append(errs, FieldError{Field: "direction", Message: "must be inbound or outbound"})
	}
	if r.TraceID != "" && !isHex(r.TraceID, 32) {
		errs = append(errs, FieldError{Field: "trace_id", Message: "must be 32 hex characters"})
	}
	if r.ParentSpanID != "" && !isHex(r.ParentSpanID, 16) {
		errs = append(errs, FieldError{Field: "parent_span_id", Message: "must be 16 hex characters"})
	}
	if r.ConversationID != "" && r.SessionID == "" {
		errs = append(errs, FieldError{Field: "conversation_id", Message: "requires session_id"})
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// kind infers the specialized record type.
func (r *RawRecord) kind() Kind {
	switch {
	case r.LLM != nil || strings.EqualFold(r.Channel, ChannelLLM):
		return KindLLM
	case r.Tool != nil || strings.EqualFold(r.Channel, ChannelTool):
		return KindTool
	default:
		return KindGeneric
	}
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
