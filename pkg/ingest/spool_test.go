package ingest_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/ingest"
	"github.com/cylestio/cylestio-monitor/pkg/store"
)

const (
	goodLine    = `{"event_type":"llm.call.finish","channel":"LLM","timestamp":"2025-03-10T12:00:00Z","agent_id":"agent-9","fields":{"prompt":"hi"},"llm":{"model":"m"}}`
	noAgentLine = `{"event_type":"tool.call.start","channel":"TOOL","timestamp":"2025-03-10T12:00:01Z","fields":{"arguments":"run rm -rf / please"},"tool":{"name":"shell"}}`
	badTrace    = `{"event_type":"x","channel":"SYSTEM","timestamp":"2025-03-10T12:00:02Z","trace_id":"nothex"}`
	noType      = `{"channel":"SYSTEM","timestamp":"2025-03-10T12:00:03Z","agent_id":"a"}`
)

func newDecoder(t *testing.T, validate bool) *ingest.Decoder {
	t.Helper()
	d, err := ingest.NewDecoder(config.IngestConfig{ValidateSchema: validate}, "default-agent", quietLogger())
	require.NoError(t, err)
	return d
}

func TestCompileRecordSchema(t *testing.T) {
	_, err := ingest.CompileRecordSchema()
	require.NoError(t, err)
}

func TestDecoder_Decode(t *testing.T) {
	tests := []struct {
		name      string
		validate  bool
		line      string
		wantErr   string
		wantAgent string
	}{
		{name: "valid", validate: true, line: goodLine, wantAgent: "agent-9"},
		{name: "default agent", validate: true, line: noAgentLine, wantAgent: "default-agent"},
		{name: "bad trace id", validate: true, line: badTrace, wantErr: "schema validation failed"},
		{name: "missing event type", validate: true, line: noType, wantErr: "schema validation failed"},
		{name: "not json", validate: true, line: `{"event_type":`, wantErr: "invalid JSON"},
		{name: "bad trace without schema", validate: false, line: badTrace, wantAgent: "default-agent"},
		{name: "wrong type without schema", validate: false, line: `{"timestamp":42}`, wantErr: "invalid record"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := newDecoder(t, tt.validate).Decode([]byte(tt.line))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAgent, rec.AgentID)
		})
	}
}

func TestDecoder_Run(t *testing.T) {
	m, _ := newMonitor(t, testConfig(t))
	input := strings.Join([]string{goodLine, "", noAgentLine, badTrace, noType}, "\n")

	report, err := newDecoder(t, true).Run(context.Background(), strings.NewReader(input), m)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Lines)
	assert.Equal(t, 2, report.Ingested)
	assert.Equal(t, 1, report.Blocked)
	assert.Equal(t, 2, report.Invalid)
	assert.False(t, report.OK())
	require.Len(t, report.Errors, 2)
	assert.Equal(t, 4, report.Errors[0].Line)
	assert.Equal(t, 5, report.Errors[1].Line)

	n, err := m.Store().CountEvents(context.Background(), store.EventFilter{AgentID: "default-agent"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDecoder_NormalizerValidationCountsInvalid(t *testing.T) {
	m, _ := newMonitor(t, testConfig(t))
	// Passes without schema validation, rejected by the normalizer.
	d := newDecoder(t, false)

	report, err := d.Run(context.Background(), strings.NewReader(badTrace), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invalid)
	assert.Zero(t, report.Failed)
}

func TestSpoolWatcher_ProcessFile(t *testing.T) {
	m, _ := newMonitor(t, testConfig(t))
	dir := t.TempDir()

	good := filepath.Join(dir, "a.jsonl")
	require.NoError(t, os.WriteFile(good, []byte(goodLine+"\n"+noAgentLine+"\n"), 0o644))
	bad := filepath.Join(dir, "b.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte(goodLine+"\n"+noType+"\n"), 0o644))

	w, err := ingest.NewSpoolWatcher(config.IngestConfig{SpoolDir: dir}, newDecoder(t, true), m, quietLogger())
	require.NoError(t, err)

	report, err := w.ProcessFile(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ingested)
	assert.FileExists(t, good+ingest.DoneSuffix)
	assert.NoFileExists(t, good)

	report, err = w.ProcessFile(context.Background(), bad)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invalid)
	assert.FileExists(t, bad+ingest.FailedSuffix)
}

// cancelAfter forwards records and cancels the run once n have been stored.
type cancelAfter struct {
	next   ingest.Pipeline
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Ingest(ctx context.Context, rec events.RawRecord) (ingest.Result, error) {
	res, err := c.next.Ingest(ctx, rec)
	if err == nil {
		if c.n--; c.n == 0 {
			c.cancel()
		}
	}
	return res, err
}

func TestSpoolWatcher_ResumesInterruptedFile(t *testing.T) {
	m, _ := newMonitor(t, testConfig(t))
	dir := t.TempDir()

	lines := make([]string, 5)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"event_type":"note","channel":"SYSTEM","timestamp":"2025-03-10T12:00:0%dZ","agent_id":"resume-agent","fields":{"n":"%d"}}`, i, i)
	}
	path := filepath.Join(dir, "resume.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := ingest.NewSpoolWatcher(config.IngestConfig{SpoolDir: dir}, newDecoder(t, true),
		&cancelAfter{next: m, n: 2, cancel: cancel}, quietLogger())
	require.NoError(t, err)

	report, err := w.ProcessFile(ctx, path)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Ingested)
	assert.Equal(t, 2, report.LastLine)
	assert.FileExists(t, path)
	offset, err := os.ReadFile(path + ingest.OffsetSuffix)
	require.NoError(t, err)
	assert.Equal(t, "2", strings.TrimSpace(string(offset)))

	w, err = ingest.NewSpoolWatcher(config.IngestConfig{SpoolDir: dir}, newDecoder(t, true), m, quietLogger())
	require.NoError(t, err)
	report, err = w.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Ingested)
	assert.FileExists(t, path+ingest.DoneSuffix)
	assert.NoFileExists(t, path+ingest.OffsetSuffix)

	n, err := m.Store().CountEvents(context.Background(), store.EventFilter{AgentID: "resume-agent"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestDecoder_ResumeCheckpoints(t *testing.T) {
	m, _ := newMonitor(t, testConfig(t))
	input := strings.Repeat(goodLine+"\n", 150)

	var marks []int
	report, err := newDecoder(t, true).Resume(context.Background(), strings.NewReader(input), m, 10,
		func(line int) { marks = append(marks, line) })
	require.NoError(t, err)
	assert.Equal(t, 140, report.Ingested)
	assert.Equal(t, 150, report.LastLine)
	assert.Equal(t, []int{74, 138}, marks)
}

func TestSpoolWatcher_Run(t *testing.T) {
	m, _ := newMonitor(t, testConfig(t))
	dir := t.TempDir()

	// Present before the watcher starts.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "early.jsonl"), []byte(goodLine+"\n"), 0o644))
	// Not matching the pattern.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(goodLine+"\n"), 0o644))

	w, err := ingest.NewSpoolWatcher(config.IngestConfig{SpoolDir: dir}, newDecoder(t, true), m, quietLogger())
	require.NoError(t, err)
	w.SetSettleInterval(20 * time.Millisecond)

	var (
		mu        sync.Mutex
		processed []string
	)
	w.OnProcessed = func(path string, _ ingest.Report, _ error) {
		mu.Lock()
		processed = append(processed, filepath.Base(path))
		mu.Unlock()
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(processed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return count() == 1 }, 5*time.Second, 10*time.Millisecond)

	tmp := filepath.Join(dir, "late.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(noAgentLine+"\n"), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "late.jsonl")))

	require.Eventually(t, func() bool { return count() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, []string{"early.jsonl", "late.jsonl"}, processed)
	mu.Unlock()
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.FileExists(t, filepath.Join(dir, "late.jsonl"+ingest.DoneSuffix))

	blocked, err := m.Store().CountEvents(context.Background(), store.EventFilter{Blocked: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), blocked)

	evs, err := m.Store().Events(context.Background(), store.EventFilter{AgentID: "default-agent"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "tool.call.start"+events.BlockedSuffix, evs[0].Event.EventType)
}

func TestNewSpoolWatcher_Errors(t *testing.T) {
	d := newDecoder(t, false)
	_, err := ingest.NewSpoolWatcher(config.IngestConfig{}, d, nil, nil)
	assert.Error(t, err)

	_, err = ingest.NewSpoolWatcher(config.IngestConfig{SpoolDir: t.TempDir(), Pattern: "[bad"}, d, nil, nil)
	assert.Error(t, err)
}

func boolPtr(b bool) *bool { return &b }
