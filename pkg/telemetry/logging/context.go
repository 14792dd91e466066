package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Log field names added from the context.
const (
	AgentIDKey        = "agent_id"
	SessionIDKey      = "session_id"
	ConversationIDKey = "conversation_id"
	TraceIDKey        = "trace_id"
	SpanIDKey         = "span_id"
)

type contextKey string

const (
	agentCtxKey        contextKey = AgentIDKey
	sessionCtxKey      contextKey = SessionIDKey
	conversationCtxKey contextKey = ConversationIDKey
)

// WithAgentID adds an agent ID to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentCtxKey, agentID)
}

// GetAgentID retrieves the agent ID from the context.
func GetAgentID(ctx context.Context) string {
	if id, ok := ctx.Value(agentCtxKey).(string); ok {
		return id
	}
	return ""
}

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sessionID)
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionCtxKey).(string); ok {
		return id
	}
	return ""
}

// WithConversationID adds a conversation ID to the context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationCtxKey, conversationID)
}

// GetConversationID retrieves the conversation ID from the context.
func GetConversationID(ctx context.Context) string {
	if id, ok := ctx.Value(conversationCtxKey).(string); ok {
		return id
	}
	return ""
}

// contextHandler appends context identifiers and the active span to each
// record.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if v := GetAgentID(ctx); v != "" {
			r.AddAttrs(slog.String(AgentIDKey, v))
		}
		if v := GetSessionID(ctx); v != "" {
			r.AddAttrs(slog.String(SessionIDKey, v))
		}
		if v := GetConversationID(ctx); v != "" {
			r.AddAttrs(slog.String(ConversationIDKey, v))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(
				slog.String(TraceIDKey, sc.TraceID().String()),
				slog.String(SpanIDKey, sc.SpanID().String()),
			)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
