package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cylestio/cylestio-monitor/pkg/events"
)

// EventFilter selects events. Zero fields do not filter. Start is
// inclusive, End exclusive.
type EventFilter struct {
	AgentID        string
	SessionID      string
	ConversationID string
	EventType      string
	Channel        string
	Level          string
	TraceID        string
	AlertLevel     string
	Blocked        *bool
	Start          *time.Time
	End            *time.Time

	// Text matches masked prompt, response and tool text, the event type
	// and the event data.
	Text string

	IDs []int64

	Limit     int
	Offset    int
	Ascending bool
}

const eventColumns = `
	e.id, a.agent_id, COALESCE(s.session_id, ''), COALESCE(c.conversation_id, ''),
	e.event_type, e.channel, e.level, e.timestamp, COALESCE(e.direction, ''),
	COALESCE(e.trace_id, ''), COALESCE(e.span_id, ''), COALESCE(e.parent_span_id, ''),
	e.kind, e.data,
	sec.alert_level, sec.matched_terms, sec.reason, sec.source_field`

const eventJoins = `
	FROM events e
	JOIN agents a ON a.id = e.agent_id
	LEFT JOIN sessions s ON s.id = e.session_id
	LEFT JOIN conversations c ON c.id = e.conversation_id
	LEFT JOIN event_security sec ON sec.event_id = e.id`

// GetEvent loads one event with all of its sub-records.
func (s *Store) GetEvent(ctx context.Context, id int64) (*events.Normalized, error) {
	out, err := s.Events(ctx, EventFilter{IDs: []int64{id}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &StorageError{Op: "get_event", Kind: KindOther, Cause: fmt.Errorf("%w: event %d", ErrNotFound, id)}
	}
	return out[0], nil
}

// Events returns the events matching f, newest first unless f.Ascending,
// with their LLM call, tool call, security, alert and performance records.
func (s *Store) Events(ctx context.Context, f EventFilter) ([]*events.Normalized, error) {
	where, args := s.buildWhereClause(f)

	q := "SELECT " + eventColumns + eventJoins
	if where != "" {
		q += " WHERE " + where
	}
	order := "DESC"
	if f.Ascending {
		order = "ASC"
	}
	q += fmt.Sprintf(" ORDER BY e.timestamp %s, e.id %s", order, order)
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, newError("query_events", err)
	}
	defer rows.Close()

	var (
		out  []*events.Normalized
		byID = map[int64]*events.Normalized{}
		ids  []int64
	)
	for rows.Next() {
		n, err := scanEvent(rows)
		if err != nil {
			return nil, newError("scan_event", err)
		}
		out = append(out, n)
		byID[n.Event.ID] = n
		ids = append(ids, n.Event.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, newError("query_events", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return out, nil
	}
	if err := s.loadChildren(ctx, ids, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// CountEvents returns the number of events matching f.
func (s *Store) CountEvents(ctx context.Context, f EventFilter) (int64, error) {
	where, args := s.buildWhereClause(f)
	q := "SELECT COUNT(*)" + eventJoins
	if where != "" {
		q += " WHERE " + where
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, newError("count_events", err)
	}
	return n, nil
}

// buildWhereClause builds the WHERE clause (without the keyword) and its
// arguments for f.
func (s *Store) buildWhereClause(f EventFilter) (string, []any) {
	var conditions []string
	var args []any

	eq := func(col, v string) {
		if v != "" {
			conditions = append(conditions, col+" = ?")
			args = append(args, v)
		}
	}
	eq("a.agent_id", f.AgentID)
	eq("s.session_id", f.SessionID)
	eq("c.conversation_id", f.ConversationID)
	eq("e.event_type", f.EventType)
	eq("e.channel", strings.ToUpper(f.Channel))
	eq("e.level", strings.ToLower(f.Level))
	eq("e.trace_id", strings.ToLower(f.TraceID))

	if f.AlertLevel != "" {
		if f.AlertLevel == "none" {
			conditions = append(conditions, "(sec.alert_level IS NULL OR sec.alert_level = 'none')")
		} else {
			conditions = append(conditions, "sec.alert_level = ?")
			args = append(args, f.AlertLevel)
		}
	}
	if f.Blocked != nil {
		if *f.Blocked {
			conditions = append(conditions, "e.event_type LIKE ?")
		} else {
			conditions = append(conditions, "e.event_type NOT LIKE ?")
		}
		args = append(args, "%"+events.BlockedSuffix)
	}

	if f.Start != nil {
		conditions = append(conditions, "e.timestamp >= ?")
		args = append(args, FormatTime(*f.Start))
	}
	if f.End != nil {
		conditions = append(conditions, "e.timestamp < ?")
		args = append(args, FormatTime(*f.End))
	}

	if len(f.IDs) > 0 {
		conditions = append(conditions, "e.id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}

	if text := strings.TrimSpace(f.Text); text != "" {
		like := "%" + escapeLike(text) + "%"
		textConds := []string{
			`e.event_type LIKE ? ESCAPE '\'`,
			`e.data LIKE ? ESCAPE '\'`,
		}
		textArgs := []any{like, like}
		if s.FullText() {
			textConds = append(textConds, "e.id IN (SELECT rowid FROM event_text_fts WHERE event_text_fts MATCH ?)")
			textArgs = append(textArgs, ftsPhrase(text))
		} else {
			textConds = append(textConds,
				`e.id IN (SELECT event_id FROM llm_calls WHERE prompt LIKE ? ESCAPE '\' OR response LIKE ? ESCAPE '\')`,
				`e.id IN (SELECT event_id FROM tool_calls WHERE tool_name LIKE ? ESCAPE '\' OR input_params LIKE ? ESCAPE '\' OR output_result LIKE ? ESCAPE '\' OR error_message LIKE ? ESCAPE '\')`,
			)
			textArgs = append(textArgs, like, like, like, like, like, like)
		}
		conditions = append(conditions, "("+strings.Join(textConds, " OR ")+")")
		args = append(args, textArgs...)
	}

	return strings.Join(conditions, " AND "), args
}

func scanEvent(rows *sql.Rows) (*events.Normalized, error) {
	var (
		n                                   events.Normalized
		ts, kind                            string
		data                                sql.NullString
		alertLevel, terms, reason, srcField sql.NullString
	)
	err := rows.Scan(
		&n.Event.ID, &n.Event.AgentID, &n.Event.SessionID, &n.Event.ConversationID,
		&n.Event.EventType, &n.Event.Channel, &n.Event.Level, &ts, &n.Event.Direction,
		&n.Event.TraceID, &n.Event.SpanID, &n.Event.ParentSpanID,
		&kind, &data,
		&alertLevel, &terms, &reason, &srcField,
	)
	if err != nil {
		return nil, err
	}
	n.Event.Timestamp = ParseTime(ts)
	n.Event.Kind = events.Kind(kind)
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &n.Event.Extra); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
	}
	if alertLevel.Valid {
		n.Security = &events.EventSecurity{
			AlertLevel:  alertLevel.String,
			Reason:      reason.String,
			SourceField: srcField.String,
		}
		if terms.Valid && terms.String != "" {
			_ = json.Unmarshal([]byte(terms.String), &n.Security.MatchedTerms)
		}
	}
	return &n, nil
}

// loadChildren fills the per-event sub-records for ids.
func (s *Store) loadChildren(ctx context.Context, ids []int64, byID map[int64]*events.Normalized) error {
	in := placeholders(len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, model, prompt, response, tokens_in, tokens_out, duration_ms, is_stream, temperature, cost
		FROM llm_calls WHERE event_id IN (`+in+`)`, args...)
	if err != nil {
		return newError("load_llm_calls", err)
	}
	for rows.Next() {
		var (
			id                         int64
			c                          events.LLMCall
			tokensIn, tokensOut, durMS sql.NullInt64
			temp, cost                 sql.NullFloat64
		)
		if err := rows.Scan(&id, &c.Model, &c.Prompt, &c.Response, &tokensIn, &tokensOut, &durMS, &c.IsStream, &temp, &cost); err != nil {
			rows.Close()
			return newError("load_llm_calls", err)
		}
		c.TokensIn = int(tokensIn.Int64)
		c.TokensOut = int(tokensOut.Int64)
		c.DurationMS = durMS.Int64
		if temp.Valid {
			t := temp.Float64
			c.Temperature = &t
		}
		c.Cost = cost.Float64
		if n := byID[id]; n != nil {
			n.LLMCall = &c
		}
	}
	if err := closeRows(rows); err != nil {
		return newError("load_llm_calls", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT event_id, tool_name, input_params, output_result, success, error_message, duration_ms, blocking
		FROM tool_calls WHERE event_id IN (`+in+`)`, args...)
	if err != nil {
		return newError("load_tool_calls", err)
	}
	for rows.Next() {
		var (
			id                     int64
			c                      events.ToolCall
			params, result, errMsg sql.NullString
			success                sql.NullBool
			durMS                  sql.NullInt64
		)
		if err := rows.Scan(&id, &c.ToolName, &params, &result, &success, &errMsg, &durMS, &c.Blocking); err != nil {
			rows.Close()
			return newError("load_tool_calls", err)
		}
		c.InputParams = params.String
		c.OutputResult = result.String
		c.ErrorMessage = errMsg.String
		c.DurationMS = durMS.Int64
		if success.Valid {
			ok := success.Bool
			c.Success = &ok
		}
		if n := byID[id]; n != nil {
			n.ToolCall = &c
		}
	}
	if err := closeRows(rows); err != nil {
		return newError("load_tool_calls", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, event_id, alert_type, severity, description, matched_terms, action_taken, timestamp
		FROM security_alerts WHERE event_id IN (`+in+`) ORDER BY id`, args...)
	if err != nil {
		return newError("load_security_alerts", err)
	}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			rows.Close()
			return newError("load_security_alerts", err)
		}
		if n := byID[a.EventID]; n != nil {
			n.Alerts = append(n.Alerts, a)
		}
	}
	if err := closeRows(rows); err != nil {
		return newError("load_security_alerts", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT event_id, memory_usage, cpu_usage, duration_ms, tokens_processed, cost
		FROM performance_metrics WHERE event_id IN (`+in+`)`, args...)
	if err != nil {
		return newError("load_performance_metrics", err)
	}
	for rows.Next() {
		var (
			id                 int64
			mem, durMS, tokens sql.NullInt64
			cpu, cost          sql.NullFloat64
		)
		if err := rows.Scan(&id, &mem, &cpu, &durMS, &tokens, &cost); err != nil {
			rows.Close()
			return newError("load_performance_metrics", err)
		}
		if n := byID[id]; n != nil {
			n.Performance = &events.PerformanceMetric{
				MemoryUsage:     mem.Int64,
				CPUUsage:        cpu.Float64,
				DurationMS:      durMS.Int64,
				TokensProcessed: int(tokens.Int64),
				Cost:            cost.Float64,
			}
		}
	}
	if err := closeRows(rows); err != nil {
		return newError("load_performance_metrics", err)
	}
	return nil
}

// ScanAlert scans a security_alerts row selected as id, event_id,
// alert_type, severity, description, matched_terms, action_taken, timestamp.
func ScanAlert(rows *sql.Rows) (events.SecurityAlert, error) {
	return scanAlert(rows)
}

func scanAlert(rows *sql.Rows) (events.SecurityAlert, error) {
	var (
		a             events.SecurityAlert
		terms, action sql.NullString
		ts            string
	)
	if err := rows.Scan(&a.ID, &a.EventID, &a.AlertType, &a.Severity, &a.Description, &terms, &action, &ts); err != nil {
		return a, err
	}
	if terms.Valid && terms.String != "" {
		_ = json.Unmarshal([]byte(terms.String), &a.MatchedTerms)
	}
	a.ActionTaken = action.String
	a.Timestamp = ParseTime(ts)
	return a, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// escapeLike escapes LIKE wildcards with a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ftsPhrase quotes text as a single FTS5 phrase so user input cannot use
// query syntax.
func ftsPhrase(text string) string {
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
