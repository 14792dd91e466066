package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/ingest"
)

// DefaultProgressInterval is how many records pass between progress lines.
const DefaultProgressInterval = 1000

// Progress wraps an ingest pipeline and prints a running count of the
// records it has seen.
type Progress struct {
	next   ingest.Pipeline
	writer io.Writer
	every  int

	mu      sync.Mutex
	records int
	blocked int
	failed  int
	started time.Time
}

var _ ingest.Pipeline = (*Progress)(nil)

// NewProgress returns a Progress that reports to w every n records.
// If w is nil, it defaults to os.Stderr.
func NewProgress(w io.Writer, next ingest.Pipeline, n int) *Progress {
	if w == nil {
		w = os.Stderr
	}
	if n <= 0 {
		n = DefaultProgressInterval
	}
	return &Progress{
		next:    next,
		writer:  w,
		every:   n,
		started: time.Now(),
	}
}

// Ingest forwards rec and counts the outcome.
func (p *Progress) Ingest(ctx context.Context, rec events.RawRecord) (ingest.Result, error) {
	res, err := p.next.Ingest(ctx, rec)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.records++
	switch {
	case err != nil:
		p.failed++
	case res.Blocked:
		p.blocked++
	}
	if p.records%p.every == 0 {
		p.render()
	}
	return res, err
}

// Finish prints the final summary of an ingest run.
func (p *Progress) Finish(r ingest.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.writer, "Ingested %d of %d lines (%d blocked, %d invalid, %d failed) in %s\n",
		r.Ingested, r.Lines, r.Blocked, r.Invalid, r.Failed,
		time.Since(p.started).Round(time.Millisecond))
	for _, lerr := range r.Errors {
		fmt.Fprintf(p.writer, "  %v\n", lerr)
	}
}

func (p *Progress) render() {
	elapsed := time.Since(p.started)
	rate := float64(p.records) / elapsed.Seconds()
	fmt.Fprintf(p.writer, "Processed %d records (%d blocked, %d failed) %.1f rec/s\n",
		p.records, p.blocked, p.failed, rate)
}
