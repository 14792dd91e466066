package tracing

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

const (
	testTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	testSpanID  = "00f067aa0ba902b7"
)

func TestSpanContext(t *testing.T) {
	tests := []struct {
		name    string
		traceID string
		spanID  string
		valid   bool
	}{
		{"valid", testTraceID, testSpanID, true},
		{"upper case", "4BF92F3577B34DA6A3CE929D0E0E4736", "00F067AA0BA902B7", true},
		{"short trace", "4bf92f", testSpanID, false},
		{"zero trace", "00000000000000000000000000000000", testSpanID, false},
		{"zero span", testTraceID, "0000000000000000", false},
		{"not hex", testTraceID, "zzzzzzzzzzzzzzzz", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, ok := SpanContext(tt.traceID, tt.spanID)
			if ok != tt.valid {
				t.Fatalf("SpanContext() ok = %v, want %v", ok, tt.valid)
			}
			if ok && sc.TraceID().String() != testTraceID {
				t.Errorf("TraceID = %s, want %s", sc.TraceID(), testTraceID)
			}
		})
	}
}

func TestInjectExtract(t *testing.T) {
	ctx := ContextWithSpan(context.Background(), testTraceID, testSpanID)

	headers := http.Header{}
	Inject(ctx, headers)

	want := "00-" + testTraceID + "-" + testSpanID + "-01"
	if got := headers.Get("traceparent"); got != want {
		t.Fatalf("traceparent = %q, want %q", got, want)
	}

	sc := trace.SpanContextFromContext(Extract(context.Background(), headers))
	if sc.TraceID().String() != testTraceID || sc.SpanID().String() != testSpanID {
		t.Errorf("extracted %s/%s", sc.TraceID(), sc.SpanID())
	}
}

func TestInjectWithoutSpan(t *testing.T) {
	ctx := ContextWithSpan(context.Background(), "bad", "ids")

	headers := http.Header{}
	Inject(ctx, headers)
	if got := headers.Get("traceparent"); got != "" {
		t.Errorf("traceparent = %q, want none", got)
	}
}

func TestValidateTraceParent(t *testing.T) {
	tests := []struct {
		name  string
		value string
		valid bool
	}{
		{"valid", "00-" + testTraceID + "-" + testSpanID + "-01", true},
		{"not sampled", "00-" + testTraceID + "-" + testSpanID + "-00", true},
		{"missing part", "00-" + testTraceID + "-" + testSpanID, false},
		{"bad version", "0-" + testTraceID + "-" + testSpanID + "-01", false},
		{"zero trace", "00-00000000000000000000000000000000-" + testSpanID + "-01", false},
		{"zero parent", "00-" + testTraceID + "-0000000000000000-01", false},
		{"not hex", "00-" + testTraceID + "-" + testSpanID + "-zz", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateTraceParent(tt.value); got != tt.valid {
				t.Errorf("ValidateTraceParent(%q) = %v, want %v", tt.value, got, tt.valid)
			}
		})
	}
}

func TestParseTraceParent(t *testing.T) {
	traceID, parentID, ok := ParseTraceParent("00-4BF92F3577B34DA6A3CE929D0E0E4736-" + testSpanID + "-01")
	if !ok {
		t.Fatal("ParseTraceParent() reported invalid")
	}
	if traceID != testTraceID || parentID != testSpanID {
		t.Errorf("ParseTraceParent() = %s, %s", traceID, parentID)
	}

	if _, _, ok := ParseTraceParent("garbage"); ok {
		t.Error("ParseTraceParent(garbage) reported valid")
	}
}
