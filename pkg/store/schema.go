package store

import (
	"fmt"
	"strings"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// ftsTable indexes the masked text of LLM and tool calls. Its rowid is the
// event id.
const ftsTable = "event_text_fts"

// column is one expected column of a table.
type column struct {
	Name    string
	Type    string
	NotNull bool
	Default string

	// Extra holds constraints that only apply at table creation, such as
	// PRIMARY KEY, UNIQUE or REFERENCES.
	Extra string
}

// table is one expected table.
type table struct {
	Name        string
	Columns     []column
	Constraints []string
}

type index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// tables lists every table in creation order; parents precede children.
var tables = []table{
	{
		Name: "schema_version",
		Columns: []column{
			{Name: "version", Type: "INTEGER", Extra: "PRIMARY KEY"},
			{Name: "applied_at", Type: "TEXT", NotNull: true},
		},
	},
	{
		Name: "agents",
		Columns: []column{
			{Name: "id", Type: "INTEGER", Extra: "PRIMARY KEY AUTOINCREMENT"},
			{Name: "agent_id", Type: "TEXT", NotNull: true, Extra: "UNIQUE"},
			{Name: "name", Type: "TEXT"},
			{Name: "description", Type: "TEXT"},
			{Name: "created_at", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "last_seen", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "metadata", Type: "TEXT"},
		},
	},
	{
		Name: "sessions",
		Columns: []column{
			{Name: "id", Type: "INTEGER", Extra: "PRIMARY KEY AUTOINCREMENT"},
			{Name: "session_id", Type: "TEXT", NotNull: true, Extra: "UNIQUE"},
			{Name: "agent_id", Type: "INTEGER", NotNull: true, Extra: "REFERENCES agents(id) ON DELETE CASCADE"},
			{Name: "start_time", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "end_time", Type: "TEXT"},
			{Name: "last_seen", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "metadata", Type: "TEXT"},
		},
	},
	{
		Name: "conversations",
		Columns: []column{
			{Name: "id", Type: "INTEGER", Extra: "PRIMARY KEY AUTOINCREMENT"},
			{Name: "conversation_id", Type: "TEXT", NotNull: true, Extra: "UNIQUE"},
			{Name: "session_id", Type: "INTEGER", NotNull: true, Extra: "REFERENCES sessions(id) ON DELETE CASCADE"},
			{Name: "start_time", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "end_time", Type: "TEXT"},
			{Name: "last_seen", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "metadata", Type: "TEXT"},
		},
	},
	{
		Name: "events",
		Columns: []column{
			{Name: "id", Type: "INTEGER", Extra: "PRIMARY KEY AUTOINCREMENT"},
			{Name: "agent_id", Type: "INTEGER", NotNull: true, Extra: "REFERENCES agents(id) ON DELETE CASCADE"},
			{Name: "session_id", Type: "INTEGER", Extra: "REFERENCES sessions(id) ON DELETE CASCADE"},
			{Name: "conversation_id", Type: "INTEGER", Extra: "REFERENCES conversations(id) ON DELETE CASCADE"},
			{Name: "event_type", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "channel", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "level", Type: "TEXT", NotNull: true, Default: "'info'"},
			{Name: "timestamp", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "direction", Type: "TEXT"},
			{Name: "trace_id", Type: "TEXT"},
			{Name: "span_id", Type: "TEXT"},
			{Name: "parent_span_id", Type: "TEXT"},
			{Name: "kind", Type: "TEXT", NotNull: true, Default: "'generic'"},
			{Name: "data", Type: "TEXT"},
			{Name: "created_at", Type: "TEXT", NotNull: true, Default: "''"},
		},
	},
	{
		Name: "llm_calls",
		Columns: []column{
			{Name: "id", Type: "INTEGER", Extra: "PRIMARY KEY AUTOINCREMENT"},
			{Name: "event_id", Type: "INTEGER", NotNull: true, Extra: "UNIQUE REFERENCES events(id) ON DELETE CASCADE"},
			{Name: "model", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "prompt", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "response", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "tokens_in", Type: "INTEGER"},
			{Name: "tokens_out", Type: "INTEGER"},
			{Name: "duration_ms", Type: "INTEGER"},
			{Name: "is_stream", Type: "INTEGER", NotNull: true, Default: "0"},
			{Name: "temperature", Type: "REAL"},
			{Name: "cost", Type: "REAL"},
		},
	},
	{
		Name: "tool_calls",
		Columns: []column{
			{Name: "id", Type: "INTEGER", Extra: "PRIMARY KEY AUTOINCREMENT"},
			{Name: "event_id", Type: "INTEGER", NotNull: true, Extra: "UNIQUE REFERENCES events(id) ON DELETE CASCADE"},
			{Name: "tool_name", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "input_params", Type: "TEXT"},
			{Name: "output_result", Type: "TEXT"},
			{Name: "success", Type: "INTEGER"},
			{Name: "error_message", Type: "TEXT"},
			{Name: "duration_ms", Type: "INTEGER"},
			{Name: "blocking", Type: "INTEGER", NotNull: true, Default: "0"},
		},
	},
	{
		Name: "event_security",
		Columns: []column{
			{Name: "id", Type: "INTEGER", Extra: "PRIMARY KEY AUTOINCREMENT"},
			{Name: "event_id", Type: "INTEGER", NotNull: true, Extra: "UNIQUE REFERENCES events(id) ON DELETE CASCADE"},
			{Name: "alert_level", Type: "TEXT", NotNull: true, Default: "'none'"},
			{Name: "matched_terms", Type: "TEXT"},
			{Name: "reason", Type: "TEXT"},
			{Name: "source_field", Type: "TEXT"},
		},
		Constraints: []string{
			"CHECK (alert_level IN ('none', 'suspicious', 'dangerous'))",
		},
	},
	{
		Name: "security_alerts",
		Columns: []column{
			{Name: "id", Type: "INTEGER", Extra: "PRIMARY KEY AUTOINCREMENT"},
			{Name: "event_id", Type: "INTEGER", NotNull: true, Extra: "REFERENCES events(id) ON DELETE CASCADE"},
			{Name: "alert_type", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "severity", Type: "TEXT", NotNull: true, Default: "'low'"},
			{Name: "description", Type: "TEXT", NotNull: true, Default: "''"},
			{Name: "matched_terms", Type: "TEXT"},
			{Name: "action_taken", Type: "TEXT"},
			{Name: "timestamp", Type: "TEXT", NotNull: true, Default: "''"},
		},
		Constraints: []string{
			"CHECK (severity IN ('low', 'medium', 'high', 'critical'))",
		},
	},
	{
		Name: "performance_metrics",
		Columns: []column{
			{Name: "id", Type: "INTEGER", Extra: "PRIMARY KEY AUTOINCREMENT"},
			{Name: "event_id", Type: "INTEGER", NotNull: true, Extra: "UNIQUE REFERENCES events(id) ON DELETE CASCADE"},
			{Name: "memory_usage", Type: "INTEGER"},
			{Name: "cpu_usage", Type: "REAL"},
			{Name: "duration_ms", Type: "INTEGER"},
			{Name: "tokens_processed", Type: "INTEGER"},
			{Name: "cost", Type: "REAL"},
		},
	},
}

var indexes = []index{
	{Name: "idx_sessions_agent_id", Table: "sessions", Columns: []string{"agent_id"}},
	{Name: "idx_conversations_session_id", Table: "conversations", Columns: []string{"session_id"}},
	{Name: "idx_events_agent_id", Table: "events", Columns: []string{"agent_id"}},
	{Name: "idx_events_session_id", Table: "events", Columns: []string{"session_id"}},
	{Name: "idx_events_conversation_id", Table: "events", Columns: []string{"conversation_id"}},
	{Name: "idx_events_timestamp", Table: "events", Columns: []string{"timestamp"}},
	{Name: "idx_events_event_type", Table: "events", Columns: []string{"event_type"}},
	{Name: "idx_events_channel", Table: "events", Columns: []string{"channel"}},
	{Name: "idx_events_level", Table: "events", Columns: []string{"level"}},
	{Name: "idx_events_trace", Table: "events", Columns: []string{"trace_id", "parent_span_id"}},
	{Name: "idx_security_alerts_event_id", Table: "security_alerts", Columns: []string{"event_id"}},
	{Name: "idx_security_alerts_timestamp", Table: "security_alerts", Columns: []string{"timestamp"}},
	{Name: "idx_security_alerts_severity", Table: "security_alerts", Columns: []string{"severity"}},
	{Name: "idx_event_security_alert_level", Table: "event_security", Columns: []string{"alert_level"}},
}

// ftsSchema creates the full text index and the triggers that keep it in
// sync. Rows are keyed by event id; an event has at most one LLM or tool
// call.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS event_text_fts USING fts5(body);

CREATE TRIGGER IF NOT EXISTS llm_calls_fts_ai AFTER INSERT ON llm_calls BEGIN
    INSERT INTO event_text_fts(rowid, body)
    VALUES (new.event_id, COALESCE(new.prompt, '') || ' ' || COALESCE(new.response, ''));
END;

CREATE TRIGGER IF NOT EXISTS tool_calls_fts_ai AFTER INSERT ON tool_calls BEGIN
    INSERT INTO event_text_fts(rowid, body)
    VALUES (new.event_id, COALESCE(new.tool_name, '') || ' ' || COALESCE(new.input_params, '') || ' ' ||
        COALESCE(new.output_result, '') || ' ' || COALESCE(new.error_message, ''));
END;

CREATE TRIGGER IF NOT EXISTS events_fts_ad AFTER DELETE ON events BEGIN
    DELETE FROM event_text_fts WHERE rowid = old.id;
END;
`

const insertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, ?)
ON CONFLICT(version) DO NOTHING;
`

const getSchemaVersion = `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;`

// createSQL returns the CREATE TABLE statement for t.
func (t table) createSQL() string {
	defs := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		def := c.Name + " " + c.Type
		if c.Extra != "" {
			def += " " + c.Extra
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		defs = append(defs, def)
	}
	defs = append(defs, t.Constraints...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n);", t.Name, strings.Join(defs, ",\n    "))
}

// addColumnSQL returns an ALTER TABLE statement adding c to an existing
// table. SQLite cannot add PRIMARY KEY or UNIQUE columns, and NOT NULL
// columns need a default, so those constraints are relaxed.
func (t table) addColumnSQL(c column) string {
	def := c.Name + " " + c.Type
	if c.NotNull && c.Default != "" {
		def += " NOT NULL DEFAULT " + c.Default
	} else if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", t.Name, def)
}

func (ix index) createSQL() string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s(%s);",
		unique, ix.Name, ix.Table, strings.Join(ix.Columns, ", "))
}

func tableByName(name string) (table, bool) {
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return table{}, false
}
