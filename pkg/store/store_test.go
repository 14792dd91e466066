package store_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/store"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T, driver string) config.StorageConfig {
	t.Helper()
	return config.StorageConfig{
		Driver:         driver,
		Path:           filepath.Join(t.TempDir(), "monitor.db"),
		MaxOpenConns:   4,
		MaxIdleConns:   2,
		WALMode:        true,
		BusyTimeout:    2 * time.Second,
		WriteRetries:   2,
		FullTextSearch: true,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openStore opens and prepares a store backed by a temp-dir file.
func openStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	return openStoreWith(t, testConfig(t, "sqlite"), opts...)
}

func openStoreWith(t *testing.T, cfg config.StorageConfig, opts ...store.Option) *store.Store {
	t.Helper()
	opts = append([]store.Option{store.WithClock(func() time.Time { return testNow })}, opts...)
	st, err := store.Open(cfg, quietLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	report, err := st.Prepare(context.Background())
	require.NoError(t, err)
	require.True(t, report.Matches(), report.Summary())
	require.Equal(t, store.StateReady, st.State())
	return st
}

func llmEvent(agent, session, conversation string, ts time.Time) *events.Normalized {
	temp := 0.2
	return &events.Normalized{
		Event: events.Event{
			AgentID:        agent,
			SessionID:      session,
			ConversationID: conversation,
			EventType:      "llm.call.finish",
			Channel:        events.ChannelLLM,
			Level:          events.LevelInfo,
			Timestamp:      ts,
			Direction:      events.DirectionInbound,
			TraceID:        "4bf92f3577b34da6a3ce929d0e0e4736",
			SpanID:         "00f067aa0ba902b7",
			Kind:           events.KindLLM,
			Extra:          map[string]any{"framework": "langchain"},
		},
		LLMCall: &events.LLMCall{
			Model:       "claude-3-haiku",
			Prompt:      "what is the weather in Paris",
			Response:    "sunny",
			TokensIn:    12,
			TokensOut:   3,
			DurationMS:  420,
			Temperature: &temp,
			Cost:        0.0004,
		},
		Performance: &events.PerformanceMetric{
			MemoryUsage:     1 << 20,
			CPUUsage:        12.5,
			DurationMS:      420,
			TokensProcessed: 15,
			Cost:            0.0004,
		},
	}
}

func countRows(t *testing.T, st *store.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestStore_WriteAndRead(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	ts := testNow.Add(-time.Minute)
	n := llmEvent("agent-1", "session-1", "conv-1", ts)
	n.Security = &events.EventSecurity{
		AlertLevel:   "suspicious",
		MatchedTerms: []string{"password"},
		Reason:       "matched sensitive_data",
		SourceField:  "prompt",
	}
	n.Alerts = []events.SecurityAlert{{
		AlertType:    "sensitive_data",
		Severity:     "high",
		Description:  "credential in prompt",
		MatchedTerms: []string{"password"},
		ActionTaken:  "masked",
	}}

	id, err := st.WriteEvent(ctx, n)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, n.Event.ID)
	assert.Equal(t, id, n.Alerts[0].EventID)

	got, err := st.GetEvent(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "agent-1", got.Event.AgentID)
	assert.Equal(t, "session-1", got.Event.SessionID)
	assert.Equal(t, "conv-1", got.Event.ConversationID)
	assert.Equal(t, "llm.call.finish", got.Event.EventType)
	assert.Equal(t, events.ChannelLLM, got.Event.Channel)
	assert.True(t, got.Event.Timestamp.Equal(ts))
	assert.Equal(t, events.KindLLM, got.Event.Kind)
	assert.Equal(t, "langchain", got.Event.Extra["framework"])

	require.NotNil(t, got.LLMCall)
	assert.Equal(t, "claude-3-haiku", got.LLMCall.Model)
	assert.Equal(t, 12, got.LLMCall.TokensIn)
	require.NotNil(t, got.LLMCall.Temperature)
	assert.InDelta(t, 0.2, *got.LLMCall.Temperature, 1e-9)
	assert.Nil(t, got.ToolCall)

	require.NotNil(t, got.Security)
	assert.Equal(t, "suspicious", got.Security.AlertLevel)
	assert.Equal(t, []string{"password"}, got.Security.MatchedTerms)

	require.Len(t, got.Alerts, 1)
	assert.Equal(t, "high", got.Alerts[0].Severity)
	assert.True(t, got.Alerts[0].Timestamp.Equal(ts), "alert timestamp defaults to the event's")

	require.NotNil(t, got.Performance)
	assert.Equal(t, 15, got.Performance.TokensProcessed)
}

func TestStore_ToolCall(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	ok := false
	n := &events.Normalized{
		Event: events.Event{
			AgentID:   "agent-1",
			EventType: "tool.call.finish",
			Channel:   events.ChannelTool,
			Level:     events.LevelError,
			Timestamp: testNow,
			Kind:      events.KindTool,
		},
		ToolCall: &events.ToolCall{
			ToolName:     "shell",
			InputParams:  `{"cmd":"ls"}`,
			Success:      &ok,
			ErrorMessage: "exit status 1",
			Blocking:     true,
		},
	}
	id, err := st.WriteEvent(ctx, n)
	require.NoError(t, err)

	got, err := st.GetEvent(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.ToolCall)
	assert.Equal(t, "shell", got.ToolCall.ToolName)
	require.NotNil(t, got.ToolCall.Success)
	assert.False(t, *got.ToolCall.Success)
	assert.True(t, got.ToolCall.Blocking)
	assert.Empty(t, got.Event.SessionID)
	assert.Equal(t, "none", got.AlertLevel())
}

func TestStore_GetEventNotFound(t *testing.T) {
	st := openStore(t)

	_, err := st.GetEvent(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStore_WriteBeforePrepare(t *testing.T) {
	st, err := store.Open(testConfig(t, "sqlite"), quietLogger())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.WriteEvent(context.Background(), llmEvent("a", "", "", testNow))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotReady))
	assert.True(t, store.IsStructural(err))
}

func TestStore_GetOrCreateIsIdempotent(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	a1, err := st.GetOrCreateAgent(ctx, "agent-x")
	require.NoError(t, err)
	a2, err := st.GetOrCreateAgent(ctx, "agent-x")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, 1, countRows(t, st, "agents"))

	s1, err := st.GetOrCreateSession(ctx, "agent-x", "s-1")
	require.NoError(t, err)
	s2, err := st.GetOrCreateSession(ctx, "agent-x", "s-1")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	c1, err := st.GetOrCreateConversation(ctx, "agent-x", "s-1", "c-1")
	require.NoError(t, err)
	c2, err := st.GetOrCreateConversation(ctx, "agent-x", "s-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.Equal(t, 1, countRows(t, st, "conversations"))
}

func TestStore_HierarchyMismatch(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	_, err := st.WriteEvent(ctx, llmEvent("agent-a", "shared-session", "", testNow))
	require.NoError(t, err)

	_, err = st.WriteEvent(ctx, llmEvent("agent-b", "shared-session", "", testNow))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrHierarchy))

	var serr *store.StorageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, store.KindConstraint, serr.Kind)

	// The failed write is rolled back entirely.
	assert.Equal(t, 1, countRows(t, st, "events"))
	assert.Equal(t, 1, countRows(t, st, "llm_calls"))
}

func TestStore_AlertLevelCarriedWithinSpan(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	first := llmEvent("agent-1", "s", "", testNow.Add(-time.Second))
	first.Event.ParentSpanID = "b7ad6b7169203331"
	first.Security = &events.EventSecurity{AlertLevel: "dangerous", Reason: "dangerous command"}
	_, err := st.WriteEvent(ctx, first)
	require.NoError(t, err)

	second := llmEvent("agent-1", "s", "", testNow)
	second.Event.ParentSpanID = "b7ad6b7169203331"
	id, err := st.WriteEvent(ctx, second)
	require.NoError(t, err)

	got, err := st.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dangerous", got.AlertLevel())
	assert.Contains(t, got.Security.Reason, "inherited")

	// Other spans are unaffected.
	other := llmEvent("agent-1", "s", "", testNow)
	other.Event.ParentSpanID = "0000000000000001"
	id, err = st.WriteEvent(ctx, other)
	require.NoError(t, err)
	got, err = st.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "none", got.AlertLevel())
}

func TestStore_EventsFilter(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	for i := range 5 {
		n := llmEvent("agent-1", "s-1", "", testNow.Add(-time.Duration(i)*time.Hour))
		_, err := st.WriteEvent(ctx, n)
		require.NoError(t, err)
	}
	tool := &events.Normalized{
		Event: events.Event{
			AgentID: "agent-2", EventType: "tool.call.start" + events.BlockedSuffix,
			Channel: events.ChannelTool, Level: events.LevelAlert, Timestamp: testNow, Kind: events.KindTool,
		},
		ToolCall: &events.ToolCall{ToolName: "rm_rf"},
		Security: &events.EventSecurity{AlertLevel: "dangerous"},
	}
	_, err := st.WriteEvent(ctx, tool)
	require.NoError(t, err)

	yes := true
	start := testNow.Add(-150 * time.Minute)
	end := testNow

	tests := []struct {
		name   string
		filter store.EventFilter
		want   int
	}{
		{name: "all", filter: store.EventFilter{}, want: 6},
		{name: "agent", filter: store.EventFilter{AgentID: "agent-1"}, want: 5},
		{name: "session", filter: store.EventFilter{SessionID: "s-1"}, want: 5},
		{name: "channel is case-insensitive", filter: store.EventFilter{Channel: "tool"}, want: 1},
		{name: "level", filter: store.EventFilter{Level: "ALERT"}, want: 1},
		{name: "alert level", filter: store.EventFilter{AlertLevel: "dangerous"}, want: 1},
		{name: "no alert", filter: store.EventFilter{AlertLevel: "none"}, want: 5},
		{name: "blocked", filter: store.EventFilter{Blocked: &yes}, want: 1},
		{name: "window is half-open", filter: store.EventFilter{Start: &start, End: &end}, want: 2},
		{name: "text in prompt", filter: store.EventFilter{Text: "weather"}, want: 5},
		{name: "text in tool name", filter: store.EventFilter{Text: "rm_rf"}, want: 1},
		{name: "limit", filter: store.EventFilter{Limit: 2}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.Events(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)

			if tt.filter.Limit == 0 {
				n, err := st.CountEvents(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, int64(tt.want), n)
			}
		})
	}

	ordered, err := st.Events(ctx, store.EventFilter{AgentID: "agent-1", Ascending: true})
	require.NoError(t, err)
	for i := 1; i < len(ordered); i++ {
		assert.False(t, ordered[i].Event.Timestamp.Before(ordered[i-1].Event.Timestamp))
	}
}

func TestStore_CleanupOlderThan(t *testing.T) {
	st := openStore(t, store.WithBatchSize(1))
	ctx := context.Background()

	old := llmEvent("agent-1", "s-old", "", testNow.Add(-40*24*time.Hour))
	old.Alerts = []events.SecurityAlert{{AlertType: "sensitive_data", Severity: "low", Description: "x"}}
	_, err := st.WriteEvent(ctx, old)
	require.NoError(t, err)
	recent := llmEvent("agent-1", "s-new", "", testNow.Add(-5*24*time.Hour))
	recentID, err := st.WriteEvent(ctx, recent)
	require.NoError(t, err)

	deleted, err := st.CleanupOlderThan(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	assert.Equal(t, 1, countRows(t, st, "events"))
	assert.Equal(t, 1, countRows(t, st, "llm_calls"))
	assert.Equal(t, 1, countRows(t, st, "performance_metrics"))
	assert.Equal(t, 0, countRows(t, st, "security_alerts"))

	_, err = st.GetEvent(ctx, recentID)
	require.NoError(t, err)

	pruned, err := st.PruneOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned, "the old session has no events left")
	assert.Equal(t, 1, countRows(t, st, "sessions"))
}

func TestStore_CleanupDuringWrites(t *testing.T) {
	st := openStore(t, store.WithBatchSize(3))
	ctx := context.Background()

	for i := range 20 {
		_, err := st.WriteEvent(ctx, llmEvent("agent-1", "s-old", "", testNow.Add(-40*24*time.Hour+time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	const writers, perWriter = 4, 10
	g, gctx := errgroup.WithContext(ctx)
	for w := range writers {
		g.Go(func() error {
			for i := range perWriter {
				ts := testNow.Add(-time.Duration(w*perWriter+i) * time.Second)
				if _, err := st.WriteEvent(gctx, llmEvent("agent-1", "s-new", "", ts)); err != nil {
					return err
				}
			}
			return nil
		})
	}

	var deleted int64
	g.Go(func() error {
		n, err := st.CleanupOlderThan(gctx, 30*24*time.Hour)
		deleted = n
		return err
	})
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(20), deleted)
	assert.Equal(t, writers*perWriter, countRows(t, st, "events"))
	assert.Equal(t, writers*perWriter, countRows(t, st, "llm_calls"))
}

func TestStore_DeleteEvents(t *testing.T) {
	st := openStore(t, store.WithBatchSize(2))
	ctx := context.Background()

	var ids []int64
	for i := range 5 {
		id, err := st.WriteEvent(ctx, llmEvent("a", "", "", testNow.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	n, err := st.DeleteEvents(ctx, ids[:3])
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 2, countRows(t, st, "events"))
}

func TestStore_UpdateSchemaIsIdempotent(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	first, err := st.UpdateSchema(ctx)
	require.NoError(t, err)
	assert.False(t, first.Changed())

	second, err := st.UpdateSchema(ctx)
	require.NoError(t, err)
	assert.False(t, second.Changed())
}

func TestStore_MissingColumnIsAdded(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	_, err := st.DB().ExecContext(ctx, "ALTER TABLE llm_calls DROP COLUMN cost")
	require.NoError(t, err)

	report, err := st.VerifySchema(ctx)
	require.NoError(t, err)
	assert.False(t, report.Compatible())
	assert.Equal(t, []string{"cost"}, report.MissingColumns["llm_calls"])
	assert.Equal(t, store.StateVerified, st.State())

	_, err = st.WriteEvent(ctx, llmEvent("a", "", "", testNow))
	assert.True(t, errors.Is(err, store.ErrNotReady), "writes wait for a compatible schema")

	update, err := st.UpdateSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cost"}, update.ColumnsAdded["llm_calls"])
	assert.Equal(t, store.StateMigrated, st.State())

	report, err = st.VerifySchema(ctx)
	require.NoError(t, err)
	assert.True(t, report.Matches(), report.Summary())
	assert.Equal(t, store.StateReady, st.State())
}

func TestStore_ExtraTablesAreTolerated(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	_, err := st.DB().ExecContext(ctx, "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)")
	require.NoError(t, err)

	report, err := st.VerifySchema(ctx)
	require.NoError(t, err)
	assert.True(t, report.Compatible())
	assert.False(t, report.Matches())
	assert.Equal(t, []string{"notes"}, report.ExtraTables)

	update, err := st.UpdateSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes"}, update.ExtraPreserved)
}

func TestStore_ResetDatabase(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	st := openStoreWith(t, cfg)
	ctx := context.Background()

	_, err := st.WriteEvent(ctx, llmEvent("a", "s", "c", testNow))
	require.NoError(t, err)

	_, err = st.ResetDatabase(ctx, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrResetNotConfirmed))
	assert.Equal(t, 1, countRows(t, st, "events"))

	report, err := st.ResetDatabase(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.BackedUp)
	assert.Equal(t, filepath.Join(filepath.Dir(cfg.Path), "monitor_backup_20250310_120000.db"), report.BackupPath)
	_, err = os.Stat(report.BackupPath)
	require.NoError(t, err)
	assert.Contains(t, report.TablesDropped, "events")

	assert.Equal(t, store.StateInitialized, st.State())
	assert.Equal(t, 0, countRows(t, st, "events"))

	backup, err := store.Open(config.StorageConfig{Driver: "sqlite", Path: report.BackupPath}, quietLogger())
	require.NoError(t, err)
	defer backup.Close()
	assert.Equal(t, 1, countRows(t, backup, "events"))

	_, err = st.Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateReady, st.State())
}

func TestStore_ResetSingleConnection(t *testing.T) {
	fileCfg := testConfig(t, "sqlite")
	fileCfg.MaxOpenConns = 1
	fileCfg.MaxIdleConns = 1

	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{"memory", config.StorageConfig{Driver: "sqlite", Path: ":memory:", FullTextSearch: true}},
		{"one connection", fileCfg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := openStoreWith(t, tt.cfg)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			_, err := st.WriteEvent(ctx, llmEvent("a", "s", "c", testNow))
			require.NoError(t, err)

			_, err = st.ResetDatabase(ctx, true)
			require.NoError(t, err)
			assert.Equal(t, store.StateInitialized, st.State())
			assert.Equal(t, 0, countRows(t, st, "events"))

			report, err := st.VerifySchema(ctx)
			require.NoError(t, err)
			assert.True(t, report.Matches(), report.Summary())
		})
	}
}

func TestStore_Optimize(t *testing.T) {
	st := openStore(t, store.WithBatchSize(50))
	ctx := context.Background()

	for i := range 200 {
		n := llmEvent("a", "s", "c", testNow.Add(-40*24*time.Hour+time.Duration(i)*time.Second))
		n.LLMCall.Prompt = fmt.Sprintf("prompt %d %s", i, strings.Repeat("padding ", 64))
		_, err := st.WriteEvent(ctx, n)
		require.NoError(t, err)
	}
	keep, err := st.WriteEvent(ctx, llmEvent("a", "s", "c", testNow))
	require.NoError(t, err)

	_, err = st.CleanupOlderThan(ctx, 30*24*time.Hour)
	require.NoError(t, err)

	report, err := st.Optimize(ctx)
	require.NoError(t, err)
	assert.Positive(t, report.SizeBefore)
	assert.LessOrEqual(t, report.SizeAfter, report.SizeBefore)
	assert.Equal(t, report.SizeBefore-report.SizeAfter, report.Reclaimed())

	assert.Equal(t, store.StateReady, st.State())
	_, err = st.GetEvent(ctx, keep)
	require.NoError(t, err)
	found, err := st.Events(ctx, store.EventFilter{Text: "Paris"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestStore_OptimizeMemory(t *testing.T) {
	st := openStoreWith(t, config.StorageConfig{Driver: "sqlite", Path: ":memory:", FullTextSearch: true})

	report, err := st.Optimize(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.SizeBefore)
	assert.Zero(t, report.SizeAfter)
}

func TestStore_MemoryDatabase(t *testing.T) {
	cfg := config.StorageConfig{Driver: "sqlite", Path: ":memory:", FullTextSearch: true}
	st := openStoreWith(t, cfg)

	_, err := st.WriteEvent(context.Background(), llmEvent("a", "", "", testNow))
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, st, "events"))
}

func TestStore_CgoDriver(t *testing.T) {
	cfg := testConfig(t, "sqlite3")
	st, err := store.Open(cfg, quietLogger())
	if err != nil {
		t.Skipf("sqlite3 driver unavailable: %v", err)
	}
	defer st.Close()

	_, err = st.Prepare(context.Background())
	require.NoError(t, err)

	id, err := st.WriteEvent(context.Background(), llmEvent("a", "s", "", testNow))
	require.NoError(t, err)
	got, err := st.GetEvent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "claude-3-haiku", got.LLMCall.Model)
}

func TestFormatTimeSortsChronologically(t *testing.T) {
	a := time.Date(2025, 1, 1, 9, 0, 0, 5, time.UTC)
	b := time.Date(2025, 1, 1, 10, 15, 0, 0, time.FixedZone("CET", 3600))
	c := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

	assert.Less(t, store.FormatTime(a), store.FormatTime(b))
	assert.Less(t, store.FormatTime(b), store.FormatTime(c))
	assert.True(t, store.ParseTime(store.FormatTime(a)).Equal(a))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "locked", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{name: "missing table", err: errors.New("no such table: events"), want: false},
		{name: "wrapped", err: &store.StorageError{Op: "write", Kind: store.KindTransient, Cause: errors.New("busy")}, want: true},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.IsTransient(tt.err))
		})
	}
	assert.True(t, store.IsStructural(errors.New("table llm_calls has no column named cost")))
}
