package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/delivery"
	"github.com/cylestio/cylestio-monitor/pkg/detection"
	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/store"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/logging"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/metrics"
)

// Sources recorded in ingest_records_total.
const (
	SourceAPI   = "api"
	SourceSpool = "spool"
	SourceFile  = "file"
)

// Outcomes recorded in ingest_records_total.
const (
	OutcomeStored  = "stored"
	OutcomeBlocked = "blocked"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

// Pipeline is the entry point adapters call with each intercepted call.
type Pipeline interface {
	Ingest(ctx context.Context, rec events.RawRecord) (Result, error)
}

// Result tells the adapter what happened to a record.
type Result struct {
	EventID    int64
	EventType  string
	AlertLevel string
	Reason     string

	// Blocked is set when the call must not proceed. The event is still
	// stored, with a ".blocked" event type.
	Blocked bool

	// Alerts is the number of security alerts raised.
	Alerts int

	// Masked maps each screened field to its masked text.
	Masked map[string]string
}

// Options supplies collaborators to New. Nil fields are built from the
// configuration.
type Options struct {
	Store   *store.Store
	Engine  *detection.Engine
	Sender  *delivery.Sender
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Monitor screens, normalizes, stores and forwards records. It owns the
// collaborators it builds itself and releases them in Close.
type Monitor struct {
	cfg        *config.Config
	engine     *detection.Engine
	normalizer *events.Normalizer
	store      *store.Store
	sender     *delivery.Sender
	metrics    *metrics.Collector
	logger     *slog.Logger

	ownsStore  bool
	ownsSender bool
}

var _ Pipeline = (*Monitor)(nil)

// New builds a Monitor. Without Options.Store it opens and prepares the
// configured database; without Options.Sender it starts delivery when
// enabled. Rules that fail to load are logged and skipped.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Monitor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		cfg:     cfg,
		engine:  opts.Engine,
		store:   opts.Store,
		sender:  opts.Sender,
		metrics: opts.Metrics,
		logger:  logger.With("component", "ingest"),
	}

	if m.engine == nil {
		engine, errs := detection.New(cfg.Security, logger)
		for _, err := range errs {
			m.logger.Warn("security rule disabled", "error", err)
		}
		m.engine = engine
	}

	m.normalizer = events.NewNormalizer(events.Options{
		Policy:        m.engine.Policy(),
		MaxTextLength: cfg.Security.MaxTextLength,
		Redact:        m.engine.Redact,
		Logger:        logger,
	})

	if m.store == nil {
		st, err := store.Open(cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		report, err := st.Prepare(ctx)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("prepare store: %w", err)
		}
		if !report.Matches() {
			m.logger.Warn("schema differs from expected", "summary", report.Summary())
		}
		m.store = st
		m.ownsStore = true
	}

	if m.sender == nil && cfg.Delivery.Enabled {
		sender, err := delivery.New(cfg.Delivery, m.metrics, logger)
		if err != nil {
			m.closeStore()
			return nil, err
		}
		sender.Start(ctx)
		m.sender = sender
		m.ownsSender = true
	}

	m.logger.Info("monitor ready",
		"patterns", m.engine.Registry().ActiveCount(),
		"delivery", m.sender != nil,
	)
	return m, nil
}

// Engine returns the detection engine.
func (m *Monitor) Engine() *detection.Engine { return m.engine }

// Store returns the event store.
func (m *Monitor) Store() *store.Store { return m.store }

type sourceKey struct{}

// WithSource labels records ingested with ctx for metrics and logs.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceAPI
}

// Ingest screens every text field of rec, builds the event, stores it in
// one transaction and queues it for delivery. Validation errors are
// *events.ValidationError; storage failures are *store.StorageError.
// Delivery problems are logged and never fail the call.
func (m *Monitor) Ingest(ctx context.Context, rec events.RawRecord) (Result, error) {
	source := sourceFrom(ctx)
	ctx = logging.WithAgentID(ctx, rec.AgentID)
	if rec.SessionID != "" {
		ctx = logging.WithSessionID(ctx, rec.SessionID)
	}

	screened := m.screen(rec.Fields)

	n, err := m.normalizer.Normalize(ctx, rec, screened)
	if err != nil {
		m.metrics.RecordIngest(source, OutcomeInvalid)
		return Result{}, err
	}

	start := time.Now()
	id, err := m.store.WriteEvent(ctx, n)
	m.metrics.RecordStoreWrite(writeStatus(err), time.Since(start))
	if err != nil {
		m.metrics.RecordIngest(source, OutcomeFailed)
		m.logger.ErrorContext(ctx, "failed to store event", "event_type", n.Event.EventType, "error", err)
		return Result{}, err
	}

	level := n.AlertLevel()
	m.metrics.RecordClassification(level)

	result := Result{
		EventID:    id,
		EventType:  n.Event.EventType,
		AlertLevel: level,
		Blocked:    n.Event.Blocked(),
		Alerts:     len(n.Alerts),
		Masked:     make(map[string]string, len(screened)),
	}
	if n.Security != nil {
		result.Reason = n.Security.Reason
	}
	for field, fr := range screened {
		result.Masked[field] = fr.Masked
	}

	if result.Blocked {
		m.metrics.RecordBlocked()
		m.metrics.RecordIngest(source, OutcomeBlocked)
	} else {
		m.metrics.RecordIngest(source, OutcomeStored)
	}

	if m.sender != nil {
		if err := m.sender.Enqueue(ctx, n); err != nil {
			m.logger.WarnContext(ctx, "event not queued for delivery", "event_id", id, "error", err)
		}
	}

	m.logger.DebugContext(ctx, "event ingested",
		"event_id", id,
		"event_type", n.Event.EventType,
		"alert_level", level,
		"source", source,
	)
	return result, nil
}

// screen runs the detection engine over each field in name order.
func (m *Monitor) screen(fields map[string]string) map[string]detection.FieldResult {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]detection.FieldResult, len(fields))
	for _, name := range names {
		fr := m.engine.Screen(name, fields[name])
		m.metrics.RecordScan()
		for _, match := range fr.Classification.Matches {
			m.metrics.RecordMatch(match.Category, string(match.Severity))
		}
		for _, skipped := range fr.Skipped {
			m.metrics.RecordRuleSkipped(skipped.PatternID)
		}
		out[name] = fr
	}
	return out
}

func writeStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case store.IsTransient(err):
		return "transient_error"
	case store.IsStructural(err):
		return "structural_error"
	default:
		return "error"
	}
}

// Close drains delivery and closes the store, when the monitor built
// them.
func (m *Monitor) Close(ctx context.Context) error {
	var errs []error
	if m.ownsSender && m.sender != nil {
		if err := m.sender.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close delivery: %w", err))
		}
	}
	if err := m.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (m *Monitor) closeStore() error {
	if m.ownsStore && m.store != nil {
		err := m.store.Close()
		m.ownsStore = false
		return err
	}
	return nil
}
