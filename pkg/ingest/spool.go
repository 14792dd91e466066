package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cylestio/cylestio-monitor/pkg/config"
)

// Suffixes appended to spool files once they are processed.
const (
	DoneSuffix   = ".done"
	FailedSuffix = ".failed"
)

// OffsetSuffix names the sidecar holding the last handled line of a spool
// file whose processing was interrupted.
const OffsetSuffix = ".offset"

// DefaultSettleInterval is how long a spool file must stay unchanged
// before it is read.
const DefaultSettleInterval = 200 * time.Millisecond

// SpoolWatcher ingests JSON-lines files dropped into a directory. Files
// matching the configured pattern are read once they stop changing, then
// renamed with DoneSuffix, or FailedSuffix when any line was rejected.
// A file interrupted by shutdown resumes after the last line it recorded
// in its OffsetSuffix sidecar.
type SpoolWatcher struct {
	dir      string
	pattern  string
	settle   time.Duration
	decoder  *Decoder
	pipeline Pipeline
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	done    chan struct{}

	// OnProcessed, when set, is called after each file is handled.
	OnProcessed func(path string, report Report, err error)
}

// NewSpoolWatcher creates a watcher for cfg.SpoolDir.
func NewSpoolWatcher(cfg config.IngestConfig, decoder *Decoder, p Pipeline, logger *slog.Logger) (*SpoolWatcher, error) {
	if cfg.SpoolDir == "" {
		return nil, fmt.Errorf("ingest: spool_dir not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = config.DefaultIngestPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("ingest: invalid pattern %q: %w", pattern, err)
	}
	return &SpoolWatcher{
		dir:      cfg.SpoolDir,
		pattern:  pattern,
		settle:   DefaultSettleInterval,
		decoder:  decoder,
		pipeline: p,
		logger:   logger.With("component", "ingest.spool"),
		pending:  make(map[string]*time.Timer),
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
	}, nil
}

// SetSettleInterval overrides DefaultSettleInterval.
func (w *SpoolWatcher) SetSettleInterval(d time.Duration) {
	w.settle = d
}

// Run watches the spool directory until ctx is done. Files already present
// are processed first. Run may be called once.
func (w *SpoolWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	defer close(w.done)

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("spool watcher started", "dir", w.dir, "pattern", w.pattern)

	existing, err := w.scan()
	if err != nil {
		return err
	}
	for _, path := range existing {
		w.process(ctx, path)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			w.logger.Info("spool watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}
			w.logger.Debug("spool file event", "path", event.Name, "op", event.Op.String())
			w.schedule(event.Name)

		case path := <-w.ready:
			w.process(ctx, path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("spool watcher error", "error", err)
		}
	}
}

// ProcessFile ingests one file and renames it. It returns the per-line
// report. Lines recorded in the file's offset sidecar are skipped.
func (w *SpoolWatcher) ProcessFile(ctx context.Context, path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, err
	}
	offsetPath := path + OffsetSuffix
	skip := w.readOffset(offsetPath)
	if skip > 0 {
		w.logger.Info("resuming spool file", "path", path, "after_line", skip)
	}

	report, runErr := w.decoder.Resume(WithSource(ctx, SourceSpool), f, w.pipeline, skip, func(line int) {
		w.writeOffset(offsetPath, line)
	})
	f.Close()
	if runErr != nil && ctx.Err() != nil {
		// Leave the file in place to be picked up on the next start.
		w.writeOffset(offsetPath, report.LastLine)
		return report, runErr
	}

	suffix := DoneSuffix
	if runErr != nil || !report.OK() {
		suffix = FailedSuffix
	}
	if err := os.Rename(path, path+suffix); err != nil {
		return report, fmt.Errorf("failed to rename spool file: %w", err)
	}
	if err := os.Remove(offsetPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("failed to remove spool offset", "path", offsetPath, "error", err)
	}
	return report, runErr
}

// readOffset returns the line stored at path, or 0 when there is none.
func (w *SpoolWatcher) readOffset(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("failed to read spool offset", "path", path, "error", err)
		}
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		w.logger.Warn("ignoring malformed spool offset", "path", path, "content", string(data))
		return 0
	}
	return n
}

// writeOffset stores line at path through a rename so a crash never leaves
// a torn value.
func (w *SpoolWatcher) writeOffset(path string, line int) {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(line)+"\n"), 0o644); err != nil {
		w.logger.Warn("failed to write spool offset", "path", path, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		w.logger.Warn("failed to write spool offset", "path", path, "error", err)
	}
}

func (w *SpoolWatcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	report, err := w.ProcessFile(ctx, path)
	if err != nil {
		w.logger.Error("spool file failed", "path", path, "error", err)
	} else {
		w.logger.Info("spool file ingested",
			"path", path,
			"lines", report.Lines,
			"ingested", report.Ingested,
			"blocked", report.Blocked,
			"invalid", report.Invalid,
			"failed", report.Failed,
		)
	}
	if w.OnProcessed != nil {
		w.OnProcessed(path, report, err)
	}
}

// schedule (re)arms the settle timer for path.
func (w *SpoolWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *SpoolWatcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *SpoolWatcher) matches(path string) bool {
	ok, _ := filepath.Match(w.pattern, filepath.Base(path))
	return ok
}

// scan lists files already waiting in the spool directory, oldest name
// first.
func (w *SpoolWatcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !w.matches(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(w.dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
