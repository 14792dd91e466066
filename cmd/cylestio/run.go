package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cylestio/cylestio-monitor/pkg/cli"
	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/delivery"
	"github.com/cylestio/cylestio-monitor/pkg/ingest"
	"github.com/cylestio/cylestio-monitor/pkg/retention"
	"github.com/cylestio/cylestio-monitor/pkg/store"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/health"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	spoolDir      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor service",
	Long: `Run the monitor as a long-lived service. It

  - watches the spool directory and ingests every JSON-lines file dropped there
  - prunes old events on the retention schedule
  - forwards telemetry to the delivery endpoint when enabled
  - serves metrics, health and readiness endpoints when metrics are enabled

The service stops on SIGINT or SIGTERM, draining queued deliveries first.

Examples:
  # Start with default config
  cylestio run

  # Start with custom config and spool directory
  cylestio run --config /etc/cylestio/cylestio.yaml --spool /var/spool/cylestio

  # Validate config without starting
  cylestio run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override metrics and health listen address")
	runCmd.Flags().StringVar(&runFlags.spoolDir, "spool", "", "override spool directory")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runService(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	cfg := a.cfg

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Telemetry.Metrics.ListenAddress = runFlags.listenAddress
		cfg.Telemetry.Metrics.Enabled = true
	}
	if runFlags.spoolDir != "" {
		cfg.Ingest.SpoolDir = runFlags.spoolDir
	}

	if runFlags.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration valid (%d active patterns)\n", a.engine.Registry().ActiveCount())
		return nil
	}

	ctx := cmd.Context()
	logger := a.logger
	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)

	st, err := a.openStore(ctx)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer st.Close()

	// Delivery outlives ctx so queued events can drain on shutdown.
	deliveryCtx, cancelDelivery := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDelivery()

	var sender *delivery.Sender
	if cfg.Delivery.Enabled {
		sender, err = delivery.New(cfg.Delivery, collector, logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		sender.Start(deliveryCtx)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sender.Close(closeCtx); err != nil {
				logger.Warn("delivery did not drain", "error", err)
			}
		}()
	}

	monitor, err := ingest.New(ctx, cfg, ingest.Options{
		Store:   st,
		Engine:  a.engine,
		Sender:  sender,
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	pruner := retention.NewPruner(st, cfg.Retention, collector, logger)
	if err := pruner.Start(ctx); err != nil {
		return cli.NewConfigError("retention.schedule", err.Error())
	}
	defer pruner.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Ingest.SpoolDir != "" {
		decoder, err := ingest.NewDecoder(cfg.Ingest, cfg.Agent.ID, logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		watcher, err := ingest.NewSpoolWatcher(cfg.Ingest, decoder, monitor, logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		g.Go(func() error {
			return watcher.Run(ingest.WithSource(gctx, ingest.SourceSpool))
		})
	} else {
		logger.Info("no spool directory configured, spool ingestion disabled")
	}

	if cfg.Telemetry.Metrics.Enabled {
		srv := newTelemetryServer(cfg, collector, st)
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("listen on %s: %w", srv.Addr, err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Metrics endpoint: http://%s%s\n", ln.Addr(), cfg.Telemetry.Metrics.Path)
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Health endpoint: http://%s%s\n", ln.Addr(), cfg.Telemetry.Health.LivenessPath)

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("monitor running",
		"database", st.Path(),
		"spool_dir", cfg.Ingest.SpoolDir,
		"delivery", sender != nil,
		"metrics", cfg.Telemetry.Metrics.Enabled,
		"next_pruning", pruner.NextPruning(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	// Block until a signal cancels ctx or a component fails.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return cli.NewCommandError("run", err)
	}
	logger.Info("shutting down")
	return nil
}

// newTelemetryServer serves metrics, liveness, readiness and version.
func newTelemetryServer(cfg *config.Config, collector *metrics.Collector, st *store.Store) *http.Server {
	checker := health.New(health.DefaultCheckTimeout)
	checker.Register("store", health.StoreCheck(st))

	mux := http.NewServeMux()
	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
	checker.Mount(mux, cfg.Telemetry.Health, versionInfo())

	return &http.Server{
		Addr:              cfg.Telemetry.Metrics.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
