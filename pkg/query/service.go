package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/store"
)

// Service answers read-only questions about stored events.
type Service struct {
	st     *store.Store
	logger *slog.Logger
}

// NewService creates a query service over st.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		st:     st,
		logger: logger.With("component", "query"),
	}
}

// Find returns the events matching f after validation and defaults.
func (s *Service) Find(ctx context.Context, f Filter) ([]*events.Normalized, error) {
	if err := Validate(&f); err != nil {
		return nil, err
	}
	ApplyDefaults(&f)

	start := time.Now()
	out, err := s.st.Events(ctx, toStoreFilter(f))
	if err != nil {
		return nil, NewQueryError(&f, err)
	}
	s.logger.Debug("events queried",
		"count", len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Count returns the number of events matching f, ignoring paging.
func (s *Service) Count(ctx context.Context, f Filter) (int64, error) {
	if err := Validate(&f); err != nil {
		return 0, err
	}
	sf := toStoreFilter(f)
	sf.Limit, sf.Offset = 0, 0
	n, err := s.st.CountEvents(ctx, sf)
	if err != nil {
		return 0, NewQueryError(&f, err)
	}
	return n, nil
}

// RecentEvents returns the newest events, optionally for one agent.
func (s *Service) RecentEvents(ctx context.Context, agentID string, limit int) ([]*events.Normalized, error) {
	return s.Find(ctx, Filter{AgentID: agentID, Limit: limit})
}

// EventsByType returns the newest events of one event type.
func (s *Service) EventsByType(ctx context.Context, eventType, agentID string, limit int) ([]*events.Normalized, error) {
	return s.Find(ctx, Filter{EventType: eventType, AgentID: agentID, Limit: limit})
}

// EventsByChannel returns the newest events on one channel.
func (s *Service) EventsByChannel(ctx context.Context, channel, agentID string, limit int) ([]*events.Normalized, error) {
	return s.Find(ctx, Filter{Channel: channel, AgentID: agentID, Limit: limit})
}

// EventsByLevel returns the newest events at one level.
func (s *Service) EventsByLevel(ctx context.Context, level, agentID string, limit int) ([]*events.Normalized, error) {
	return s.Find(ctx, Filter{Level: level, AgentID: agentID, Limit: limit})
}

// EventsInWindow returns events with start <= timestamp < end in
// chronological order.
func (s *Service) EventsInWindow(ctx context.Context, start, end time.Time, agentID string, limit int) ([]*events.Normalized, error) {
	return s.Find(ctx, Filter{Start: &start, End: &end, AgentID: agentID, Limit: limit, SortOrder: "asc"})
}

// Search returns events whose masked text, type or data contain text.
func (s *Service) Search(ctx context.Context, text, agentID string, limit int) ([]*events.Normalized, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewQueryError(text, fmt.Errorf("search text is empty"))
	}
	return s.Find(ctx, Filter{Text: text, AgentID: agentID, Limit: limit})
}

// SessionEvents returns a session's events in chronological order.
func (s *Service) SessionEvents(ctx context.Context, sessionID string, limit int) ([]*events.Normalized, error) {
	return s.Find(ctx, Filter{SessionID: sessionID, Limit: limit, SortOrder: "asc"})
}

// ConversationEvents returns a conversation's events in chronological order.
func (s *Service) ConversationEvents(ctx context.Context, conversationID string, limit int) ([]*events.Normalized, error) {
	return s.Find(ctx, Filter{ConversationID: conversationID, Limit: limit, SortOrder: "asc"})
}

func toStoreFilter(f Filter) store.EventFilter {
	return store.EventFilter{
		AgentID:        f.AgentID,
		SessionID:      f.SessionID,
		ConversationID: f.ConversationID,
		EventType:      f.EventType,
		Channel:        f.Channel,
		Level:          f.Level,
		TraceID:        f.TraceID,
		AlertLevel:     f.AlertLevel,
		Blocked:        f.Blocked,
		Start:          f.Start,
		End:            f.End,
		Text:           f.Text,
		Limit:          f.Limit,
		Offset:         f.Offset,
		Ascending:      strings.EqualFold(f.SortOrder, "asc"),
	}
}
