package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/export"
	"github.com/cylestio/cylestio-monitor/pkg/store"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/metrics"
)

// Result summarizes one cleanup run.
type Result struct {
	Cutoff      time.Time
	Deleted     int64
	Archived    int64
	Orphans     int64
	ArchiveFile string
}

// Pruner deletes events older than the retention period.
type Pruner struct {
	store     *store.Store
	config    config.RetentionConfig
	metrics   *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
	scheduler *Scheduler
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithClock overrides the clock used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPruner creates a pruner over st. collector may be nil.
func NewPruner(st *store.Store, cfg config.RetentionConfig, collector *metrics.Collector, logger *slog.Logger, opts ...Option) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultRetentionBatchSize
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = config.DefaultRetentionArchivePath
	}

	p := &Pruner{
		store:   st,
		config:  cfg,
		metrics: collector,
		logger:  logger.With("component", "retention"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.scheduler = NewScheduler(p)
	return p
}

// Prune runs a cleanup with the configured retention period. A period of
// zero keeps events forever.
func (p *Pruner) Prune(ctx context.Context) (Result, error) {
	return p.PruneOlderThan(ctx, p.config.Days)
}

// PruneOlderThan deletes events older than days, archiving them first
// when configured, then removes agents, sessions and conversations left
// without events.
func (p *Pruner) PruneOlderThan(ctx context.Context, days int) (Result, error) {
	if days <= 0 {
		p.logger.Debug("retention disabled, nothing pruned")
		return Result{}, nil
	}

	result := Result{Cutoff: p.now().UTC().AddDate(0, 0, -days)}
	p.logger.Debug("pruning events", "cutoff", result.Cutoff, "days", days)

	var err error
	if p.config.ArchiveBeforeDelete {
		err = p.archiveAndDelete(ctx, &result)
	} else {
		result.Deleted, err = p.store.DeleteBefore(ctx, result.Cutoff)
	}
	p.metrics.RecordRetentionDeleted(result.Deleted)
	if err != nil {
		return result, NewRetentionError(days, err)
	}

	result.Orphans, err = p.store.PruneOrphans(ctx)
	if err != nil {
		return result, NewRetentionError(days, fmt.Errorf("prune orphans: %w", err))
	}

	if result.Deleted == 0 {
		p.logger.Debug("no events pruned", "days", days)
	} else {
		p.logger.Info("event pruning completed",
			"deleted_count", result.Deleted,
			"archived_count", result.Archived,
			"orphans_removed", result.Orphans,
			"days", days,
		)
	}
	return result, nil
}

// archiveAndDelete pages through expiring events oldest first, appending
// each page to the archive file before deleting exactly those events.
func (p *Pruner) archiveAndDelete(ctx context.Context, result *Result) error {
	exporter := &export.JSONLinesExporter{}
	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := p.store.Events(ctx, store.EventFilter{
			End:       &result.Cutoff,
			Ascending: true,
			Limit:     p.config.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("query events for archiving: %w", err)
		}
		if len(page) == 0 {
			break
		}

		if f == nil {
			if err := os.MkdirAll(p.config.ArchivePath, 0o755); err != nil {
				return fmt.Errorf("failed to create archive directory: %w", err)
			}
			name := fmt.Sprintf("events-%s-%s.jsonl", p.now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
			result.ArchiveFile = filepath.Join(p.config.ArchivePath, name)
			f, err = os.Create(result.ArchiveFile)
			if err != nil {
				return fmt.Errorf("failed to create archive file: %w", err)
			}
		}

		if err := exporter.Export(ctx, page, f); err != nil {
			return fmt.Errorf("failed to archive events: %w", err)
		}
		result.Archived += int64(len(page))

		ids := make([]int64, len(page))
		for i, ev := range page {
			ids[i] = ev.Event.ID
		}
		n, err := p.store.DeleteEvents(ctx, ids)
		result.Deleted += n
		if err != nil {
			return err
		}
	}

	if f != nil {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("failed to sync archive file: %w", err)
		}
		p.logger.Info("events archived", "archive_file", result.ArchiveFile, "record_count", result.Archived)
	}
	return nil
}

// Start starts the cleanup scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the cleanup scheduler, waiting for a running job.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled cleanup.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
