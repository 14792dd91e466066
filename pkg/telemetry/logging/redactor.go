package logging

import "log/slog"

// Redactor masks sensitive spans in text. The detection engine satisfies
// it, so logs are masked with the same patterns as stored events.
type Redactor interface {
	Redact(text string) string
}

// structuralKeys are never redacted; they hold identifiers and names that
// the logging code controls.
var structuralKeys = map[string]bool{
	slog.TimeKey:      true,
	slog.LevelKey:     true,
	slog.SourceKey:    true,
	"component":       true,
	"operation":       true,
	"event_type":      true,
	"channel":         true,
	"alert_level":     true,
	AgentIDKey:        true,
	SessionIDKey:      true,
	ConversationIDKey: true,
	TraceIDKey:        true,
	SpanIDKey:         true,
}

// ReplaceAttr returns a slog ReplaceAttr hook that passes string, error
// and stringer attribute values through r. The message is masked as well.
func ReplaceAttr(r Redactor) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && structuralKeys[a.Key] {
			return a
		}

		v := a.Value.Resolve()
		switch v.Kind() {
		case slog.KindString:
			return slog.String(a.Key, r.Redact(v.String()))
		case slog.KindAny:
			switch x := v.Any().(type) {
			case error:
				return slog.Any(a.Key, redactedError{msg: r.Redact(x.Error()), err: x})
			case interface{ String() string }:
				return slog.String(a.Key, r.Redact(x.String()))
			}
		}
		return a
	}
}

// redactedError prints the masked message and unwraps to the original.
type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }

func (e redactedError) Unwrap() error { return e.err }
