package retention_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/retention"
	"github.com/cylestio/cylestio-monitor/pkg/store"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/metrics"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clock() time.Time { return testNow }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.StorageConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "monitor.db"),
		MaxOpenConns: 2,
		BusyTimeout:  time.Second,
		WriteRetries: 1,
	}
	st, err := store.Open(cfg, quietLogger(), store.WithClock(clock), store.WithBatchSize(2))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	_, err = st.Prepare(context.Background())
	require.NoError(t, err)
	return st
}

// seed writes one tool event per age, each in its own session.
func seed(t *testing.T, st *store.Store, ages ...time.Duration) {
	t.Helper()
	ok := true
	for i, age := range ages {
		_, err := st.WriteEvent(context.Background(), &events.Normalized{
			Event: events.Event{
				AgentID:   "agent-1",
				SessionID: "session-" + string(rune('a'+i)),
				EventType: "tool.call.finish",
				Channel:   events.ChannelTool,
				Level:     events.LevelInfo,
				Timestamp: testNow.Add(-age),
				TraceID:   "4bf92f3577b34da6a3ce929d0e0e4736",
				SpanID:    "00f067aa0ba902b7",
				Kind:      events.KindTool,
			},
			ToolCall: &events.ToolCall{ToolName: "search", Success: &ok},
		})
		require.NoError(t, err)
	}
}

const day = 24 * time.Hour

func TestPruner_Prune(t *testing.T) {
	st := openStore(t)
	seed(t, st, 40*day, 35*day, 31*day, 5*day, time.Hour)

	collector := metrics.NewCollector(config.MetricsConfig{Namespace: "test"}, prometheus.NewRegistry())
	p := retention.NewPruner(st, config.RetentionConfig{Days: 30}, collector, quietLogger(), retention.WithClock(clock))

	result, err := p.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Deleted)
	assert.Equal(t, int64(3), result.Orphans, "three sessions lost their only event")
	assert.Equal(t, testNow.AddDate(0, 0, -30), result.Cutoff)
	assert.Empty(t, result.ArchiveFile)

	remaining, err := st.CountEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)

	again, err := p.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Deleted)
}

func TestPruner_ZeroDaysKeepsEverything(t *testing.T) {
	st := openStore(t)
	seed(t, st, 400*day)

	p := retention.NewPruner(st, config.RetentionConfig{Days: 0}, nil, quietLogger(), retention.WithClock(clock))
	result, err := p.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Deleted)

	n, err := st.CountEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPruner_PruneOlderThanOverridesConfig(t *testing.T) {
	st := openStore(t)
	seed(t, st, 10*day, 2*day)

	p := retention.NewPruner(st, config.RetentionConfig{Days: 30}, nil, quietLogger(), retention.WithClock(clock))
	result, err := p.PruneOlderThan(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Deleted)
}

func TestPruner_ArchiveBeforeDelete(t *testing.T) {
	st := openStore(t)
	seed(t, st, 50*day, 45*day, 40*day, time.Hour)

	dir := filepath.Join(t.TempDir(), "archive")
	p := retention.NewPruner(st, config.RetentionConfig{
		Days:                30,
		BatchSize:           2,
		ArchiveBeforeDelete: true,
		ArchivePath:         dir,
	}, nil, quietLogger(), retention.WithClock(clock))

	result, err := p.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Archived)
	assert.Equal(t, int64(3), result.Deleted)
	require.NotEmpty(t, result.ArchiveFile)
	assert.Equal(t, dir, filepath.Dir(result.ArchiveFile))

	f, err := os.Open(result.ArchiveFile)
	require.NoError(t, err)
	defer f.Close()

	var stamps []time.Time
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var n events.Normalized
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &n))
		assert.Equal(t, "search", n.ToolCall.ToolName)
		stamps = append(stamps, n.Event.Timestamp)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, stamps, 3)
	assert.True(t, stamps[0].Before(stamps[2]), "archive is written oldest first")

	remaining, err := st.CountEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}

func TestPruner_ArchiveSkippedWhenNothingExpires(t *testing.T) {
	st := openStore(t)
	seed(t, st, time.Hour)

	dir := filepath.Join(t.TempDir(), "archive")
	p := retention.NewPruner(st, config.RetentionConfig{
		Days:                30,
		ArchiveBeforeDelete: true,
		ArchivePath:         dir,
	}, nil, quietLogger(), retention.WithClock(clock))

	result, err := p.Prune(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.ArchiveFile)
	assert.NoDirExists(t, dir)
}

func TestPruner_StoreNotReady(t *testing.T) {
	cfg := config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "m.db")}
	st, err := store.Open(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := retention.NewPruner(st, config.RetentionConfig{Days: 1}, nil, quietLogger())
	_, err = p.Prune(context.Background())
	require.Error(t, err)

	var rerr *retention.RetentionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Days)
}
