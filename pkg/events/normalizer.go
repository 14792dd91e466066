package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cylestio/cylestio-monitor/pkg/detection"
)

// truncationMarker is appended to text cut at Options.MaxTextLength.
const truncationMarker = "...[truncated]"

// Options configures a Normalizer.
type Options struct {
	// Policy decides which suspicious categories still raise alerts.
	Policy detection.Policy

	// MaxTextLength truncates stored text in runes. Zero keeps everything.
	MaxTextLength int

	// Redact masks text for fields and attributes that were not screened.
	// Nil stores such text unchanged.
	Redact func(string) string

	Logger *slog.Logger

	// Rand is the entropy source for generated ids; crypto/rand by default.
	Rand io.Reader
}

// Normalizer turns raw records plus screening results into canonical events.
type Normalizer struct {
	opts   Options
	ids    idSource
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(opts Options) *Normalizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ids := defaultIDSource()
	if opts.Rand != nil {
		ids = idSource{rand: opts.Rand}
	}
	return &Normalizer{
		opts:   opts,
		ids:    ids,
		logger: logger.With("component", "events.normalizer"),
	}
}

// Normalize validates rec and builds the event and its specialized records.
// screened maps field names to their screening results; the stored text of a
// screened field is always its masked form. A blocked classification on any
// field tags the event type with BlockedSuffix and forces level alert.
func (n *Normalizer) Normalize(ctx context.Context, rec RawRecord, screened map[string]detection.FieldResult) (*Normalized, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	traceID, parentSpanID, err := n.ids.resolveTrace(ctx, &rec)
	if err != nil {
		return nil, err
	}
	spanID, err := n.ids.spanID()
	if err != nil {
		return nil, err
	}

	level := strings.ToLower(rec.Level)
	if level == "" {
		level = LevelInfo
	}

	out := &Normalized{
		Event: Event{
			AgentID:        rec.AgentID,
			SessionID:      rec.SessionID,
			ConversationID: rec.ConversationID,
			EventType:      rec.EventType,
			Channel:        strings.ToUpper(rec.Channel),
			Level:          level,
			Timestamp:      rec.Timestamp.UTC(),
			Direction:      strings.ToLower(rec.Direction),
			TraceID:        traceID,
			SpanID:         spanID.String(),
			ParentSpanID:   parentSpanID,
			Kind:           rec.kind(),
		},
	}

	verdict := summarize(screened)

	used := map[string]bool{}
	text := func(field string) string {
		used[field] = true
		return n.text(field, rec.Fields[field], screened)
	}

	switch out.Event.Kind {
	case KindLLM:
		call := &LLMCall{
			Prompt:   text(FieldPrompt),
			Response: text(FieldResponse),
		}
		if rec.LLM != nil {
			call.Model = rec.LLM.Model
			call.TokensIn = rec.LLM.TokensIn
			call.TokensOut = rec.LLM.TokensOut
			call.DurationMS = rec.LLM.DurationMS
			call.IsStream = rec.LLM.Stream
			call.Temperature = rec.LLM.Temperature
			call.Cost = rec.LLM.Cost
		}
		out.LLMCall = call
	case KindTool:
		call := &ToolCall{
			InputParams:  text(FieldArguments),
			OutputResult: text(FieldResult),
			ErrorMessage: text(FieldErrorText),
			Blocking:     verdict.block,
		}
		if rec.Tool != nil {
			call.ToolName = rec.Tool.Name
			call.Success = rec.Tool.Success
			call.DurationMS = rec.Tool.DurationMS
			call.Blocking = call.Blocking || rec.Tool.Blocking
			if call.ErrorMessage == "" && rec.Tool.Error != "" {
				call.ErrorMessage = n.redact(rec.Tool.Error)
			}
		}
		out.ToolCall = call
	}

	out.Event.Extra = n.extra(rec, screened, used)

	if rec.Performance != nil {
		out.Performance = &PerformanceMetric{
			MemoryUsage:     rec.Performance.MemoryBytes,
			CPUUsage:        rec.Performance.CPUPercent,
			DurationMS:      rec.Performance.DurationMS,
			TokensProcessed: rec.Performance.Tokens,
			Cost:            rec.Performance.Cost,
		}
	}

	if verdict.level != detection.AlertNone {
		out.Security = &EventSecurity{
			AlertLevel:   string(verdict.level),
			MatchedTerms: verdict.terms,
			Reason:       verdict.reason,
			SourceField:  verdict.source,
		}
		out.Alerts = n.alerts(rec, screened)
	}

	if verdict.block {
		if !out.Event.Blocked() {
			out.Event.EventType += BlockedSuffix
		}
		out.Event.Level = LevelAlert
		n.logger.Warn("call blocked",
			"agent_id", rec.AgentID,
			"event_type", out.Event.EventType,
			"source_field", verdict.source,
			"reason", verdict.reason,
			"trace_id", traceID,
		)
	}

	return out, nil
}

// verdict is the combined classification across all screened fields.
type verdict struct {
	level  detection.AlertLevel
	block  bool
	source string
	reason string
	terms  []string
}

func summarize(screened map[string]detection.FieldResult) verdict {
	v := verdict{level: detection.AlertNone}
	seen := map[string]bool{}

	for _, field := range sortedFields(screened) {
		c := screened[field].Classification
		if c.AlertLevel.Rank() > v.level.Rank() {
			v.level = c.AlertLevel
			v.source = field
			v.reason = c.Reason
		}
		v.block = v.block || c.Block
		for _, m := range c.Matches {
			if !seen[m.PatternID] {
				seen[m.PatternID] = true
				v.terms = append(v.terms, m.PatternID)
			}
		}
	}
	return v
}

func (n *Normalizer) alerts(rec RawRecord, screened map[string]detection.FieldResult) []SecurityAlert {
	var alerts []SecurityAlert
	for _, field := range sortedFields(screened) {
		c := screened[field].Classification
		if !n.opts.Policy.RaisesAlert(c) {
			continue
		}

		severity := string(c.Matches[0].Severity)
		action := "logged"
		if c.Block {
			severity = "critical"
			action = "blocked"
		}

		terms := make([]string, 0, len(c.Matches))
		seen := map[string]bool{}
		for _, m := range c.Matches {
			if !seen[m.PatternID] {
				seen[m.PatternID] = true
				terms = append(terms, m.PatternID)
			}
		}

		alerts = append(alerts, SecurityAlert{
			AlertType:    c.Category,
			Severity:     severity,
			Description:  fmt.Sprintf("%s content in %s: %s", c.AlertLevel, field, c.Reason),
			MatchedTerms: terms,
			ActionTaken:  action,
			Timestamp:    rec.Timestamp.UTC(),
		})
	}
	return alerts
}

// text returns the storable form of a field.
func (n *Normalizer) text(field, raw string, screened map[string]detection.FieldResult) string {
	if fr, ok := screened[field]; ok {
		return n.truncate(fr.Masked)
	}
	return n.truncate(n.redact(raw))
}

func (n *Normalizer) redact(s string) string {
	if n.opts.Redact == nil || s == "" {
		return s
	}
	return n.opts.Redact(s)
}

func (n *Normalizer) truncate(s string) string {
	limit := n.opts.MaxTextLength
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + truncationMarker
}

// extra collects fields without a dedicated column and free-form attributes.
func (n *Normalizer) extra(rec RawRecord, screened map[string]detection.FieldResult, used map[string]bool) map[string]any {
	extra := map[string]any{}

	fields := map[string]string{}
	for name, raw := range rec.Fields {
		if used[name] {
			continue
		}
		fields[name] = n.text(name, raw, screened)
	}
	if len(fields) > 0 {
		extra["fields"] = fields
	}

	for k, v := range rec.Attributes {
		if s, ok := v.(string); ok {
			extra[k] = n.redact(s)
			continue
		}
		extra[k] = v
	}

	if len(extra) == 0 {
		return nil
	}
	return extra
}

func sortedFields(screened map[string]detection.FieldResult) []string {
	fields := make([]string, 0, len(screened))
	for f := range screened {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
