package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/ingest"
)

// fakePipeline blocks every third record and fails every fifth.
type fakePipeline struct {
	mu sync.Mutex
	n  int
}

func (f *fakePipeline) Ingest(ctx context.Context, rec events.RawRecord) (ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.n%5 == 0 {
		return ingest.Result{}, errors.New("write failed")
	}
	return ingest.Result{Blocked: f.n%3 == 0}, nil
}

func TestProgressCounts(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgress(buf, &fakePipeline{}, 5)

	for i := 0; i < 10; i++ {
		progress.Ingest(context.Background(), events.RawRecord{})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d progress lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "Processed 10 records (3 blocked, 2 failed)") {
		t.Errorf("last line = %q", lines[1])
	}
}

func TestProgressForwardsErrors(t *testing.T) {
	progress := NewProgress(&bytes.Buffer{}, &fakePipeline{n: 4}, 0)

	_, err := progress.Ingest(context.Background(), events.RawRecord{})
	if err == nil {
		t.Fatal("expected error from wrapped pipeline")
	}
	if progress.every != DefaultProgressInterval {
		t.Errorf("every = %d, want %d", progress.every, DefaultProgressInterval)
	}
}

func TestProgressFinish(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgress(buf, &fakePipeline{}, 100)

	progress.Finish(ingest.Report{
		Lines:    3,
		Ingested: 2,
		Invalid:  1,
		Errors:   []*ingest.LineError{{Line: 2, Cause: errors.New("missing event_type")}},
	})

	out := buf.String()
	if !strings.Contains(out, "Ingested 2 of 3 lines (0 blocked, 1 invalid, 0 failed)") {
		t.Errorf("summary missing:\n%s", out)
	}
	if !strings.Contains(out, "missing event_type") {
		t.Errorf("line error missing:\n%s", out)
	}
}

func TestProgressNilWriter(t *testing.T) {
	progress := NewProgress(nil, &fakePipeline{}, 1)
	if progress.writer == nil {
		t.Error("writer should default to os.Stderr")
	}
}
