package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cylestio/cylestio-monitor/pkg/events"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var alertRank = map[string]int{"none": 0, "suspicious": 1, "dangerous": 2}

// GetOrCreateAgent returns the key of the agent with the given external
// id, creating it on first use and refreshing last_seen otherwise.
func (s *Store) GetOrCreateAgent(ctx context.Context, agentID string) (int64, error) {
	var id int64
	err := s.writeTx(ctx, "get_or_create_agent", func(tx *sql.Tx) error {
		var err error
		id, err = upsertAgent(ctx, tx, agentID, s.now())
		return err
	})
	return id, err
}

// GetOrCreateSession returns the key of a session, creating it and its
// agent on first use. A session id already bound to another agent is
// rejected with ErrHierarchy.
func (s *Store) GetOrCreateSession(ctx context.Context, agentID, sessionID string) (int64, error) {
	var id int64
	err := s.writeTx(ctx, "get_or_create_session", func(tx *sql.Tx) error {
		now := s.now()
		agentPK, err := upsertAgent(ctx, tx, agentID, now)
		if err != nil {
			return err
		}
		id, err = upsertSession(ctx, tx, agentPK, sessionID, now)
		return err
	})
	return id, err
}

// GetOrCreateConversation returns the key of a conversation, creating the
// chain above it on first use.
func (s *Store) GetOrCreateConversation(ctx context.Context, agentID, sessionID, conversationID string) (int64, error) {
	var id int64
	err := s.writeTx(ctx, "get_or_create_conversation", func(tx *sql.Tx) error {
		now := s.now()
		agentPK, err := upsertAgent(ctx, tx, agentID, now)
		if err != nil {
			return err
		}
		sessionPK, err := upsertSession(ctx, tx, agentPK, sessionID, now)
		if err != nil {
			return err
		}
		id, err = upsertConversation(ctx, tx, sessionPK, conversationID, now)
		return err
	})
	return id, err
}

// WriteEvent persists an event and all of its sub-records in one
// transaction and returns the event key. On success n.Event.ID and the
// alerts' EventID are set.
//
// An event that continues a span already recorded at a higher alert level
// (same trace id and parent span id) inherits that level, so the level
// never decreases across one call's lifecycle.
func (s *Store) WriteEvent(ctx context.Context, n *events.Normalized) (int64, error) {
	if n == nil {
		return 0, &StorageError{Op: "write_event", Kind: KindOther, Cause: errors.New("nil event")}
	}

	var id int64
	err := s.writeTx(ctx, "write_event", func(tx *sql.Tx) error {
		var err error
		id, err = s.insertEvent(ctx, tx, n)
		return err
	})
	if err != nil {
		return 0, err
	}

	n.Event.ID = id
	for i := range n.Alerts {
		n.Alerts[i].EventID = id
	}
	return id, nil
}

// writeTx runs fn in a write transaction, retrying transient failures with
// exponential backoff.
func (s *Store) writeTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = time.Second

	retries := s.cfg.WriteRetries
	if retries < 0 {
		retries = 0
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.runTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		serr := newError(op, err)
		if serr.Kind != KindTransient {
			return struct{}{}, backoff.Permanent(serr)
		}
		return struct{}{}, serr
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.logger.Warn("transient write failure, retrying", "operation", op, "error", err, "backoff", d)
		}),
	)
	if err != nil {
		var serr *StorageError
		if errors.As(err, &serr) {
			return serr
		}
		return newError(op, err)
	}
	return nil
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, n *events.Normalized) (int64, error) {
	ev := n.Event
	now := s.now()

	agentPK, err := upsertAgent(ctx, tx, ev.AgentID, ev.Timestamp)
	if err != nil {
		return 0, err
	}

	var sessionPK, conversationPK any
	if ev.SessionID != "" {
		pk, err := upsertSession(ctx, tx, agentPK, ev.SessionID, ev.Timestamp)
		if err != nil {
			return 0, err
		}
		sessionPK = pk
		if ev.ConversationID != "" {
			cpk, err := upsertConversation(ctx, tx, pk, ev.ConversationID, ev.Timestamp)
			if err != nil {
				return 0, err
			}
			conversationPK = cpk
		}
	}

	if err := carryAlertLevel(ctx, tx, n); err != nil {
		return 0, err
	}

	var data any
	if len(ev.Extra) > 0 {
		raw, err := json.Marshal(ev.Extra)
		if err != nil {
			return 0, fmt.Errorf("marshal event data: %w", err)
		}
		data = string(raw)
	}

	level := ev.Level
	if level == "" {
		level = events.LevelInfo
	}
	kind := ev.Kind
	if kind == "" {
		kind = events.KindGeneric
	}

	var eventID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (
			agent_id, session_id, conversation_id,
			event_type, channel, level, timestamp, direction,
			trace_id, span_id, parent_span_id, kind, data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		agentPK, sessionPK, conversationPK,
		ev.EventType, ev.Channel, level, FormatTime(ev.Timestamp), nullString(ev.Direction),
		nullString(ev.TraceID), nullString(ev.SpanID), nullString(ev.ParentSpanID), string(kind), data, FormatTime(now),
	).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if c := n.LLMCall; c != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO llm_calls (
				event_id, model, prompt, response, tokens_in, tokens_out,
				duration_ms, is_stream, temperature, cost
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			eventID, c.Model, c.Prompt, c.Response, c.TokensIn, c.TokensOut,
			c.DurationMS, c.IsStream, c.Temperature, c.Cost,
		)
		if err != nil {
			return 0, fmt.Errorf("insert llm call: %w", err)
		}
	}

	if c := n.ToolCall; c != nil {
		var success any
		if c.Success != nil {
			success = *c.Success
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls (
				event_id, tool_name, input_params, output_result, success,
				error_message, duration_ms, blocking
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			eventID, c.ToolName, nullString(c.InputParams), nullString(c.OutputResult), success,
			nullString(c.ErrorMessage), c.DurationMS, c.Blocking,
		)
		if err != nil {
			return 0, fmt.Errorf("insert tool call: %w", err)
		}
	}

	if sec := n.Security; sec != nil {
		terms, _ := json.Marshal(sec.MatchedTerms)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO event_security (event_id, alert_level, matched_terms, reason, source_field)
			VALUES (?, ?, ?, ?, ?)`,
			eventID, sec.AlertLevel, string(terms), nullString(sec.Reason), nullString(sec.SourceField),
		)
		if err != nil {
			return 0, fmt.Errorf("insert event security: %w", err)
		}
	}

	for _, a := range n.Alerts {
		terms, _ := json.Marshal(a.MatchedTerms)
		ts := a.Timestamp
		if ts.IsZero() {
			ts = ev.Timestamp
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO security_alerts (
				event_id, alert_type, severity, description, matched_terms, action_taken, timestamp
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			eventID, a.AlertType, a.Severity, a.Description, string(terms), nullString(a.ActionTaken), FormatTime(ts),
		)
		if err != nil {
			return 0, fmt.Errorf("insert security alert: %w", err)
		}
	}

	if p := n.Performance; p != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO performance_metrics (
				event_id, memory_usage, cpu_usage, duration_ms, tokens_processed, cost
			) VALUES (?, ?, ?, ?, ?, ?)`,
			eventID, p.MemoryUsage, p.CPUUsage, p.DurationMS, p.TokensProcessed, p.Cost,
		)
		if err != nil {
			return 0, fmt.Errorf("insert performance metric: %w", err)
		}
	}

	return eventID, nil
}

// carryAlertLevel raises n's alert level to the highest level already
// recorded for the same trace id and parent span id.
func carryAlertLevel(ctx context.Context, q querier, n *events.Normalized) error {
	ev := n.Event
	if ev.TraceID == "" || ev.ParentSpanID == "" {
		return nil
	}

	var prior sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT s.alert_level
		FROM event_security s
		JOIN events e ON e.id = s.event_id
		WHERE e.trace_id = ? AND e.parent_span_id = ?
		ORDER BY CASE s.alert_level WHEN 'dangerous' THEN 2 WHEN 'suspicious' THEN 1 ELSE 0 END DESC
		LIMIT 1`,
		ev.TraceID, ev.ParentSpanID,
	).Scan(&prior)
	if errors.Is(err, sql.ErrNoRows) || !prior.Valid {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup span alert level: %w", err)
	}

	if alertRank[prior.String] <= alertRank[n.AlertLevel()] {
		return nil
	}
	if n.Security == nil {
		n.Security = &events.EventSecurity{
			Reason: "inherited from an earlier event in the same span",
		}
	}
	n.Security.AlertLevel = prior.String
	return nil
}

func upsertAgent(ctx context.Context, q querier, agentID string, seen time.Time) (int64, error) {
	ts := FormatTime(seen)
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO agents (agent_id, created_at, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET last_seen = MAX(agents.last_seen, excluded.last_seen)
		RETURNING id`,
		agentID, ts, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert agent: %w", err)
	}
	return id, nil
}

func upsertSession(ctx context.Context, q querier, agentPK int64, sessionID string, seen time.Time) (int64, error) {
	ts := FormatTime(seen)
	var id, owner int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO sessions (session_id, agent_id, start_time, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET last_seen = MAX(sessions.last_seen, excluded.last_seen)
		RETURNING id, agent_id`,
		sessionID, agentPK, ts, ts,
	).Scan(&id, &owner)
	if err != nil {
		return 0, fmt.Errorf("upsert session: %w", err)
	}
	if owner != agentPK {
		return 0, fmt.Errorf("%w: session %q belongs to another agent", ErrHierarchy, sessionID)
	}
	return id, nil
}

func upsertConversation(ctx context.Context, q querier, sessionPK int64, conversationID string, seen time.Time) (int64, error) {
	ts := FormatTime(seen)
	var id, owner int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO conversations (conversation_id, session_id, start_time, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET last_seen = MAX(conversations.last_seen, excluded.last_seen)
		RETURNING id, session_id`,
		conversationID, sessionPK, ts, ts,
	).Scan(&id, &owner)
	if err != nil {
		return 0, fmt.Errorf("upsert conversation: %w", err)
	}
	if owner != sessionPK {
		return 0, fmt.Errorf("%w: conversation %q belongs to another session", ErrHierarchy, conversationID)
	}
	return id, nil
}
