package delivery

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/metrics"
)

type received struct {
	key         string
	header      string
	traceparent string
	envelope    events.Envelope
}

// collectorServer answers with the status returned by status for the
// n-th request (1-based) and records every request.
type collectorServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []received
	count    atomic.Int32
}

func newCollectorServer(t *testing.T, status func(n int) int) *collectorServer {
	t.Helper()
	cs := &collectorServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(cs.count.Add(1))
		var env events.Envelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		cs.mu.Lock()
		cs.requests = append(cs.requests, received{
			key:         r.Header.Get("Idempotency-Key"),
			header:      r.Header.Get("X-Api-Key"),
			traceparent: r.Header.Get("traceparent"),
			envelope:    env,
		})
		cs.mu.Unlock()
		code := status(n)
		w.WriteHeader(code)
		if code >= 400 {
			_, _ = io.WriteString(w, "nope")
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *collectorServer) snapshot() []received {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]received(nil), cs.requests...)
}

func testConfig(endpoint string) config.DeliveryConfig {
	return config.DeliveryConfig{
		Enabled:        true,
		Endpoint:       endpoint,
		Timeout:        time.Second,
		QueueSize:      10,
		OverflowPolicy: PolicyDropOldest,
		Workers:        1,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func testEvent(id int64) *events.Normalized {
	return &events.Normalized{
		Event: events.Event{
			ID:        id,
			AgentID:   "agent-1",
			EventType: "llm.call.finish",
			Channel:   events.ChannelLLM,
			Level:     events.LevelInfo,
			Timestamp: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			TraceID:   "4bf92f3577b34da6a3ce929d0e0e4736",
			SpanID:    fmt.Sprintf("%016x", id),
		},
		LLMCall: &events.LLMCall{Model: "claude-3-haiku"},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSender(t *testing.T, cfg config.DeliveryConfig) (*Sender, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(config.MetricsConfig{Namespace: "test"}, reg)
	s, err := New(cfg, collector, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, reg
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func readDeadLetters(t *testing.T, path string) []DeadLetter {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open dead letters: %v", err)
	}
	defer f.Close()

	var out []DeadLetter
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var dl DeadLetter
		if err := json.Unmarshal(scanner.Bytes(), &dl); err != nil {
			t.Fatalf("invalid dead letter line: %v", err)
		}
		out = append(out, dl)
	}
	return out
}

func closeSender(t *testing.T, s *Sender) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(config.DeliveryConfig{}, nil, nil); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("New() error = %v, want ErrNoEndpoint", err)
	}
}

func TestSender_Delivers(t *testing.T) {
	srv := newCollectorServer(t, func(int) int { return http.StatusAccepted })
	cfg := testConfig(srv.URL)
	cfg.Headers = map[string]string{"X-Api-Key": "k-123"}
	s, reg := newSender(t, cfg)

	s.Start(context.Background())
	for i := int64(1); i <= 3; i++ {
		if err := s.Enqueue(context.Background(), testEvent(i)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	closeSender(t, s)

	reqs := srv.snapshot()
	if len(reqs) != 3 {
		t.Fatalf("collector got %d requests, want 3", len(reqs))
	}
	keys := map[string]bool{}
	for _, r := range reqs {
		if r.key == "" {
			t.Error("missing Idempotency-Key")
		}
		keys[r.key] = true
		if r.header != "k-123" {
			t.Errorf("X-Api-Key = %q", r.header)
		}
		if r.envelope.AgentID != "agent-1" || r.envelope.Attributes["llm.request.model"] != "claude-3-haiku" {
			t.Errorf("unexpected envelope %+v", r.envelope)
		}
		want := "00-4bf92f3577b34da6a3ce929d0e0e4736-" + r.envelope.SpanID + "-01"
		if r.traceparent != want {
			t.Errorf("traceparent = %q, want %q", r.traceparent, want)
		}
	}
	if len(keys) != 3 {
		t.Errorf("idempotency keys should be unique per event, got %d distinct", len(keys))
	}
	if got := metricValue(t, reg, "test_delivery_total", map[string]string{"outcome": OutcomeSent}); got != 3 {
		t.Errorf("delivery_total{sent} = %v, want 3", got)
	}
}

func TestSender_RetriesTransientFailures(t *testing.T) {
	srv := newCollectorServer(t, func(n int) int {
		if n <= 2 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	s, _ := newSender(t, testConfig(srv.URL))

	s.Start(context.Background())
	if err := s.Enqueue(context.Background(), testEvent(7)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	closeSender(t, s)

	reqs := srv.snapshot()
	if len(reqs) != 3 {
		t.Fatalf("collector got %d requests, want 3", len(reqs))
	}
	if reqs[0].key != reqs[2].key {
		t.Error("retries must reuse the idempotency key")
	}
}

func TestSender_DeadLetters(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantRequests int
	}{
		{"client error is not retried", http.StatusBadRequest, 1},
		{"server error exhausts attempts", http.StatusInternalServerError, 3},
		{"rate limit is retried", http.StatusTooManyRequests, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCollectorServer(t, func(int) int { return tt.status })
			cfg := testConfig(srv.URL)
			cfg.DeadLetterPath = filepath.Join(t.TempDir(), "dl", "dead.jsonl")
			s, reg := newSender(t, cfg)

			s.Start(context.Background())
			if err := s.Enqueue(context.Background(), testEvent(42)); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
			closeSender(t, s)

			if got := len(srv.snapshot()); got != tt.wantRequests {
				t.Errorf("requests = %d, want %d", got, tt.wantRequests)
			}

			letters := readDeadLetters(t, cfg.DeadLetterPath)
			if len(letters) != 1 {
				t.Fatalf("dead letters = %d, want 1", len(letters))
			}
			dl := letters[0]
			if dl.EventID != 42 || dl.Attempts != tt.wantRequests || dl.IdempotencyKey == "" {
				t.Errorf("dead letter = %+v", dl)
			}
			var env events.Envelope
			if err := json.Unmarshal(dl.Payload, &env); err != nil || env.AgentID != "agent-1" {
				t.Errorf("dead letter payload not an envelope: %s", dl.Payload)
			}
			if got := metricValue(t, reg, "test_delivery_total", map[string]string{"outcome": OutcomeUndeliverable}); got != 1 {
				t.Errorf("delivery_total{undeliverable} = %v, want 1", got)
			}
		})
	}
}

func TestSender_DropOldest(t *testing.T) {
	srv := newCollectorServer(t, func(int) int { return http.StatusOK })
	cfg := testConfig(srv.URL)
	cfg.QueueSize = 2
	s, reg := newSender(t, cfg)

	for i := int64(1); i <= 3; i++ {
		if err := s.Enqueue(context.Background(), testEvent(i)); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if got := metricValue(t, reg, "test_delivery_dropped_total", nil); got != 1 {
		t.Errorf("delivery_dropped_total = %v, want 1", got)
	}

	s.Start(context.Background())
	closeSender(t, s)

	reqs := srv.snapshot()
	if len(reqs) != 2 {
		t.Fatalf("collector got %d requests, want 2", len(reqs))
	}
	for _, r := range reqs {
		if r.envelope.SpanID == testEvent(1).Event.SpanID {
			t.Error("oldest event should have been dropped")
		}
	}
}

func TestSender_BlockPolicy(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.QueueSize = 1
	cfg.OverflowPolicy = PolicyBlock
	s, _ := newSender(t, cfg)

	if err := s.Enqueue(context.Background(), testEvent(1)); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Enqueue(ctx, testEvent(2)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Enqueue() error = %v, want deadline exceeded", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestSender_EnqueueAfterClose(t *testing.T) {
	s, _ := newSender(t, testConfig("http://127.0.0.1:1"))
	closeSender(t, s)

	if err := s.Enqueue(context.Background(), testEvent(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue() error = %v, want ErrClosed", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestDeliveryError(t *testing.T) {
	cause := &statusError{code: 503, body: "down"}
	err := &DeliveryError{Endpoint: "http://c", StatusCode: 503, Attempts: 2, Cause: cause}

	var se *statusError
	if !errors.As(err, &se) || se.code != 503 {
		t.Error("DeliveryError should unwrap to the status error")
	}
	want := "delivery error [endpoint=http://c, status=503, attempts=2]: collector returned status 503: down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
