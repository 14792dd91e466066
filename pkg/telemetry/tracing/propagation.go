package tracing

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Propagator returns the W3C Trace Context propagator used for outgoing
// delivery requests.
func Propagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

// SpanContext builds a sampled remote span context from hex trace and span
// ids. It reports false when either id is malformed or all zeros.
func SpanContext(traceID, spanID string) (trace.SpanContext, bool) {
	tid, err := trace.TraceIDFromHex(strings.ToLower(traceID))
	if err != nil {
		return trace.SpanContext{}, false
	}
	sid, err := trace.SpanIDFromHex(strings.ToLower(spanID))
	if err != nil {
		return trace.SpanContext{}, false
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

// ContextWithSpan returns ctx carrying the span identified by traceID and
// spanID. Invalid ids leave ctx unchanged.
func ContextWithSpan(ctx context.Context, traceID, spanID string) context.Context {
	sc, ok := SpanContext(traceID, spanID)
	if !ok {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// Inject writes the traceparent header for the span in ctx.
//
//	ctx = tracing.ContextWithSpan(ctx, ev.TraceID, ev.SpanID)
//	tracing.Inject(ctx, req.Header)
func Inject(ctx context.Context, headers http.Header) {
	Propagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// Extract returns ctx carrying the span context found in headers, if any.
func Extract(ctx context.Context, headers http.Header) context.Context {
	return Propagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// ValidateTraceParent validates the traceparent header format.
//
// Format: version-trace_id-parent_id-trace_flags
//
// Example: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
func ValidateTraceParent(traceparent string) bool {
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return false
	}
	for i, n := range []int{2, 32, 16, 2} {
		if len(parts[i]) != n || !isHexString(parts[i]) {
			return false
		}
	}
	return strings.Trim(parts[1], "0") != "" && strings.Trim(parts[2], "0") != ""
}

// isHexString checks if a string contains only hexadecimal characters.
func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// ParseTraceParent returns the trace id and parent span id of a
// traceparent header.
func ParseTraceParent(traceparent string) (traceID, parentID string, valid bool) {
	if !ValidateTraceParent(traceparent) {
		return "", "", false
	}
	parts := strings.Split(traceparent, "-")
	return strings.ToLower(parts[1]), strings.ToLower(parts[2]), true
}
