package events

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// idSource generates trace and span identifiers.
type idSource struct {
	rand io.Reader
}

// maxIDAttempts bounds the reads spent looking for a non-zero id.
const maxIDAttempts = 4

// ErrIDGeneration is returned when the entropy source fails or keeps
// yielding all-zero ids.
var ErrIDGeneration = errors.New("id generation failed")

func (s idSource) traceID() (trace.TraceID, error) {
	var id trace.TraceID
	err := s.fill(id[:], func() bool { return id.IsValid() })
	return id, err
}

func (s idSource) spanID() (trace.SpanID, error) {
	var id trace.SpanID
	err := s.fill(id[:], func() bool { return id.IsValid() })
	return id, err
}

func (s idSource) fill(buf []byte, valid func() bool) error {
	for range maxIDAttempts {
		if _, err := io.ReadFull(s.rand, buf); err != nil {
			return fmt.Errorf("%w: %w", ErrIDGeneration, err)
		}
		if valid() {
			return nil
		}
	}
	return fmt.Errorf("%w: %d all-zero reads", ErrIDGeneration, maxIDAttempts)
}

func defaultIDSource() idSource {
	return idSource{rand: rand.Reader}
}

// resolveTrace picks the trace id and parent span id for a record: values on
// the record win, then the span context carried by ctx, then a fresh trace.
func (s idSource) resolveTrace(ctx context.Context, rec *RawRecord) (traceID, parentSpanID string, err error) {
	sc := trace.SpanContextFromContext(ctx)

	switch {
	case rec.TraceID != "":
		if id, err := trace.TraceIDFromHex(strings.ToLower(rec.TraceID)); err == nil {
			traceID = id.String()
		}
	case sc.HasTraceID():
		traceID = sc.TraceID().String()
	}
	if traceID == "" {
		id, err := s.traceID()
		if err != nil {
			return "", "", err
		}
		traceID = id.String()
	}

	switch {
	case rec.ParentSpanID != "":
		if id, err := trace.SpanIDFromHex(strings.ToLower(rec.ParentSpanID)); err == nil {
			parentSpanID = id.String()
		}
	case sc.HasSpanID() && sc.TraceID().String() == traceID:
		parentSpanID = sc.SpanID().String()
	}
	return traceID, parentSpanID, nil
}
