package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/store"
)

// AgentStats summarizes one agent's activity.
//
// Failures count tool calls that report success = false and events at
// error level. Any other LLM or tool call is a success. AvgDurationMS
// averages the calls that reported a duration.
type AgentStats struct {
	AgentID       string    `json:"agent_id"`
	Name          string    `json:"name,omitempty"`
	EventCount    int64     `json:"event_count"`
	LLMCalls      int64     `json:"llm_calls"`
	ToolCalls     int64     `json:"tool_calls"`
	FlaggedEvents int64     `json:"flagged_events"`
	BlockedEvents int64     `json:"blocked_events"`
	TokensIn      int64     `json:"tokens_in"`
	TokensOut     int64     `json:"tokens_out"`
	Cost          float64   `json:"cost"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
	Successes     int64     `json:"successes"`
	Failures      int64     `json:"failures"`
	SuccessRate   float64   `json:"success_rate"`
	FirstEvent    time.Time `json:"first_event"`
	LastEvent     time.Time `json:"last_event"`
}

// Bucket is one group of a distribution.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Window bounds an aggregate. Nil ends are open.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// scope builds the WHERE clause shared by aggregates.
func scope(agentID string, w Window) (string, []any) {
	var conditions []string
	var args []any
	if agentID != "" {
		conditions = append(conditions, "a.agent_id = ?")
		args = append(args, agentID)
	}
	if w.Start != nil {
		conditions = append(conditions, "e.timestamp >= ?")
		args = append(args, store.FormatTime(*w.Start))
	}
	if w.End != nil {
		conditions = append(conditions, "e.timestamp < ?")
		args = append(args, store.FormatTime(*w.End))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// AgentStats returns per-agent activity totals, optionally for one agent.
func (s *Service) AgentStats(ctx context.Context, agentID string, w Window) ([]AgentStats, error) {
	if err := validateRange(w.Start, w.End); err != nil {
		return nil, NewQueryError(w, err)
	}
	where, args := scope(agentID, w)

	rows, err := s.st.DB().QueryContext(ctx, `
		SELECT a.agent_id, COALESCE(a.name, ''),
			COUNT(e.id), COUNT(l.id), COUNT(t.id),
			SUM(CASE WHEN sec.alert_level IN ('suspicious', 'dangerous') THEN 1 ELSE 0 END),
			SUM(CASE WHEN e.event_type LIKE '%`+events.BlockedSuffix+`' THEN 1 ELSE 0 END),
			COALESCE(SUM(l.tokens_in), 0), COALESCE(SUM(l.tokens_out), 0), COALESCE(SUM(l.cost), 0),
			COALESCE(AVG(NULLIF(COALESCE(l.duration_ms, t.duration_ms), 0)), 0),
			SUM(CASE WHEN (l.id IS NOT NULL OR t.id IS NOT NULL)
				AND COALESCE(t.success, 1) != 0 AND e.level != '`+events.LevelError+`' THEN 1 ELSE 0 END),
			SUM(CASE WHEN t.success = 0 OR e.level = '`+events.LevelError+`' THEN 1 ELSE 0 END),
			MIN(e.timestamp), MAX(e.timestamp)
		FROM agents a
		JOIN events e ON e.agent_id = a.id
		LEFT JOIN llm_calls l ON l.event_id = e.id
		LEFT JOIN tool_calls t ON t.event_id = e.id
		LEFT JOIN event_security sec ON sec.event_id = e.id`+where+`
		GROUP BY a.id
		ORDER BY a.agent_id`, args...)
	if err != nil {
		return nil, NewQueryError(w, fmt.Errorf("agent stats: %w", err))
	}
	defer rows.Close()

	var out []AgentStats
	for rows.Next() {
		var (
			st          AgentStats
			first, last string
		)
		if err := rows.Scan(&st.AgentID, &st.Name,
			&st.EventCount, &st.LLMCalls, &st.ToolCalls,
			&st.FlaggedEvents, &st.BlockedEvents,
			&st.TokensIn, &st.TokensOut, &st.Cost,
			&st.AvgDurationMS, &st.Successes, &st.Failures,
			&first, &last,
		); err != nil {
			return nil, NewQueryError(w, fmt.Errorf("agent stats: %w", err))
		}
		if total := st.Successes + st.Failures; total > 0 {
			st.SuccessRate = float64(st.Successes) / float64(total)
		}
		st.FirstEvent = store.ParseTime(first)
		st.LastEvent = store.ParseTime(last)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(w, fmt.Errorf("agent stats: %w", err))
	}
	return out, nil
}

// TypeDistribution counts events per event type.
func (s *Service) TypeDistribution(ctx context.Context, agentID string, w Window) ([]Bucket, error) {
	return s.distribution(ctx, "e.event_type", agentID, w)
}

// ChannelDistribution counts events per channel.
func (s *Service) ChannelDistribution(ctx context.Context, agentID string, w Window) ([]Bucket, error) {
	return s.distribution(ctx, "e.channel", agentID, w)
}

// LevelDistribution counts events per level.
func (s *Service) LevelDistribution(ctx context.Context, agentID string, w Window) ([]Bucket, error) {
	return s.distribution(ctx, "e.level", agentID, w)
}

// distribution groups events by col, largest group first. col is one of a
// fixed set of column names, never user input.
func (s *Service) distribution(ctx context.Context, col, agentID string, w Window) ([]Bucket, error) {
	if err := validateRange(w.Start, w.End); err != nil {
		return nil, NewQueryError(w, err)
	}
	where, args := scope(agentID, w)

	rows, err := s.st.DB().QueryContext(ctx, `
		SELECT `+col+`, COUNT(*) AS n
		FROM events e
		JOIN agents a ON a.id = e.agent_id`+where+`
		GROUP BY `+col+`
		ORDER BY n DESC, `+col, args...)
	if err != nil {
		return nil, NewQueryError(w, fmt.Errorf("distribution: %w", err))
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, NewQueryError(w, fmt.Errorf("distribution: %w", err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(w, fmt.Errorf("distribution: %w", err))
	}
	return out, nil
}

// SecurityAlerts returns alerts matching f, newest first.
func (s *Service) SecurityAlerts(ctx context.Context, f AlertFilter) ([]events.SecurityAlert, error) {
	if err := ValidateAlerts(&f); err != nil {
		return nil, err
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}

	var conditions []string
	var args []any
	if f.AgentID != "" {
		conditions = append(conditions, "a.agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.AlertType != "" {
		conditions = append(conditions, "sa.alert_type = ?")
		args = append(args, f.AlertType)
	}
	if f.Severity != "" {
		conditions = append(conditions, "sa.severity = ?")
		args = append(args, f.Severity)
	}
	if f.Start != nil {
		conditions = append(conditions, "sa.timestamp >= ?")
		args = append(args, store.FormatTime(*f.Start))
	}
	if f.End != nil {
		conditions = append(conditions, "sa.timestamp < ?")
		args = append(args, store.FormatTime(*f.End))
	}

	q := `
		SELECT sa.id, sa.event_id, sa.alert_type, sa.severity, sa.description,
			sa.matched_terms, sa.action_taken, sa.timestamp
		FROM security_alerts sa
		JOIN events e ON e.id = sa.event_id
		JOIN agents a ON a.id = e.agent_id`
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	q += " ORDER BY sa.timestamp DESC, sa.id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.st.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, NewQueryError(&f, fmt.Errorf("security alerts: %w", err))
	}
	defer rows.Close()

	var out []events.SecurityAlert
	for rows.Next() {
		a, err := store.ScanAlert(rows)
		if err != nil {
			return nil, NewQueryError(&f, fmt.Errorf("security alerts: %w", err))
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(&f, fmt.Errorf("security alerts: %w", err))
	}
	return out, nil
}
