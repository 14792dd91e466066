package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/metrics"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/tracing"
)

// Overflow policies for a full queue.
const (
	PolicyDropOldest = "drop_oldest"
	PolicyBlock      = "block"
)

// Outcomes recorded in delivery_total.
const (
	OutcomeSent          = "sent"
	OutcomeUndeliverable = "undeliverable"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// item is one queued telemetry envelope.
type item struct {
	key     string
	eventID int64
	traceID string
	spanID  string
	payload []byte
}

// DeadLetter is one line of the dead-letter file.
type DeadLetter struct {
	IdempotencyKey string          `json:"idempotency_key"`
	EventID        int64           `json:"event_id,omitempty"`
	FailedAt       time.Time       `json:"failed_at"`
	Attempts       int             `json:"attempts"`
	Error          string          `json:"error"`
	Payload        json.RawMessage `json:"payload"`
}

// Sender forwards telemetry envelopes to a remote collector off the
// ingestion path. Events wait in a bounded queue and are POSTed by worker
// goroutines with exponential backoff. Events that exhaust their attempts
// are appended to the dead-letter file.
type Sender struct {
	cfg     config.DeliveryConfig
	client  *http.Client
	metrics *metrics.Collector
	logger  *slog.Logger

	queue   chan item
	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	wg      sync.WaitGroup

	dlMu sync.Mutex
	now  func() time.Time
}

// Option configures a Sender.
type Option func(*Sender)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// New creates a sender. The configuration is expected to have defaults
// applied; collector may be nil.
func New(cfg config.DeliveryConfig, collector *metrics.Collector, logger *slog.Logger, opts ...Option) (*Sender, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.DefaultDeliveryQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultDeliveryWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.DefaultDeliveryMaxAttempts
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = PolicyDropOldest
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultDeliveryTimeout
	}

	s := &Sender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: collector,
		logger:  logger.With("component", "delivery"),
		queue:   make(chan item, cfg.QueueSize),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the worker goroutines. Sends use ctx; once it is
// cancelled, queued events fail fast into the dead-letter file. Calling
// Start more than once has no effect.
func (s *Sender) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("Start called more than once, ignoring")
		return
	}
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.work(ctx)
	}
	s.logger.Info("delivery started",
		"endpoint", s.cfg.Endpoint,
		"workers", s.cfg.Workers,
		"queue_size", s.cfg.QueueSize,
		"overflow_policy", s.cfg.OverflowPolicy,
	)
}

// Enqueue queues the telemetry envelope of n. With the drop_oldest policy
// a full queue discards its oldest entry; with block it waits for room or
// for ctx.
func (s *Sender) Enqueue(ctx context.Context, n *events.Normalized) error {
	payload, err := events.MarshalEnvelope(n)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	it := item{
		key:     uuid.NewString(),
		eventID: n.Event.ID,
		traceID: n.Event.TraceID,
		spanID:  n.Event.SpanID,
		payload: payload,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	if s.cfg.OverflowPolicy == PolicyBlock {
		select {
		case s.queue <- it:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.metrics.SetDeliveryQueueDepth(len(s.queue))
		return nil
	}

	for {
		select {
		case s.queue <- it:
			s.metrics.SetDeliveryQueueDepth(len(s.queue))
			return nil
		default:
		}
		select {
		case dropped := <-s.queue:
			s.metrics.RecordDeliveryDropped()
			s.logger.Warn("delivery queue full, dropped oldest event",
				"event_id", dropped.eventID,
				"idempotency_key", dropped.key,
			)
		default:
		}
	}
}

// Len returns the number of queued events.
func (s *Sender) Len() int {
	return len(s.queue)
}

// Close stops accepting events and waits until the workers have handled
// everything already queued, or until ctx is done.
func (s *Sender) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	if !s.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("delivery stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("delivery drain timed out", "pending", len(s.queue))
		return ctx.Err()
	}
}

func (s *Sender) work(ctx context.Context) {
	defer s.wg.Done()
	for it := range s.queue {
		s.metrics.SetDeliveryQueueDepth(len(s.queue))
		if err := s.deliver(ctx, it); err != nil {
			s.metrics.RecordDelivery(OutcomeUndeliverable)
			s.logger.Error("event undeliverable",
				"event_id", it.eventID,
				"idempotency_key", it.key,
				"error", err,
			)
			s.deadLetter(it, err)
			continue
		}
		s.metrics.RecordDelivery(OutcomeSent)
	}
}

// deliver POSTs it with retries. Client errors other than 408 and 429 are
// not retried.
func (s *Sender) deliver(ctx context.Context, it item) error {
	b := backoff.NewExponentialBackOff()
	if s.cfg.InitialBackoff > 0 {
		b.InitialInterval = s.cfg.InitialBackoff
	}
	if s.cfg.MaxBackoff > 0 {
		b.MaxInterval = s.cfg.MaxBackoff
	}

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := s.post(ctx, it)
		var se *statusError
		if errors.As(err, &se) && !retryable(se.code) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("delivery failed, will retry",
				"event_id", it.eventID,
				"attempt", attempts,
				"next", next,
				"error", err,
			)
		}),
	)
	if err == nil {
		return nil
	}

	derr := &DeliveryError{Endpoint: s.cfg.Endpoint, Attempts: attempts, Cause: err}
	var se *statusError
	if errors.As(err, &se) {
		derr.StatusCode = se.code
	}
	return derr
}

func (s *Sender) post(ctx context.Context, it item) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(it.payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", it.key)
	tracing.Inject(tracing.ContextWithSpan(ctx, it.traceID, it.spanID), req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(body))}
}

// deadLetter appends it to the dead-letter file, if one is configured.
func (s *Sender) deadLetter(it item, cause error) {
	if s.cfg.DeadLetterPath == "" {
		return
	}

	entry := DeadLetter{
		IdempotencyKey: it.key,
		EventID:        it.eventID,
		FailedAt:       s.now().UTC(),
		Error:          cause.Error(),
		Payload:        it.payload,
	}
	var derr *DeliveryError
	if errors.As(cause, &derr) {
		entry.Attempts = derr.Attempts
	}
	line, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("failed to encode dead letter", "event_id", it.eventID, "error", err)
		return
	}

	s.dlMu.Lock()
	defer s.dlMu.Unlock()

	if dir := filepath.Dir(s.cfg.DeadLetterPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error("failed to create dead-letter directory", "error", err)
			return
		}
	}
	f, err := os.OpenFile(s.cfg.DeadLetterPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Error("failed to open dead-letter file", "path", s.cfg.DeadLetterPath, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Error("failed to write dead letter", "path", s.cfg.DeadLetterPath, "error", err)
	}
}
