package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cylestio/cylestio-monitor/pkg/cli"
	"github.com/cylestio/cylestio-monitor/pkg/ingest"
)

// shutdownTimeout bounds delivery draining and server shutdown.
const shutdownTimeout = 10 * time.Second

var ingestFlags struct {
	agent    string
	progress int
	quiet    bool
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl>",
	Short: "Ingest a JSON-lines file of records",
	Long: `Screen, mask and store every record of a JSON-lines file. Each line
is one intercepted call in the same format the spool watcher reads.

Bad lines are reported and skipped; the command exits with status 3 when
any line was rejected.

Examples:
  # Ingest a file
  cylestio ingest records.jsonl

  # Read from stdin and attribute records without an agent id
  cat records.jsonl | cylestio ingest - --agent weather-agent`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestFlags.agent, "agent", "", "agent id for records without one (defaults to agent.id)")
	ingestCmd.Flags().IntVar(&ingestFlags.progress, "progress", cli.DefaultProgressInterval, "print progress every N records")
	ingestCmd.Flags().BoolVarP(&ingestFlags.quiet, "quiet", "q", false, "print nothing but errors")
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return cli.NewCommandError("ingest", err)
		}
		defer f.Close()
		r = f
	}

	agent := ingestFlags.agent
	if agent == "" {
		agent = a.cfg.Agent.ID
	}
	decoder, err := ingest.NewDecoder(a.cfg.Ingest, agent, a.logger)
	if err != nil {
		return cli.NewCommandError("ingest", err)
	}

	ctx := ingest.WithSource(cmd.Context(), ingest.SourceFile)
	monitor, err := ingest.New(ctx, a.cfg, ingest.Options{Engine: a.engine, Logger: a.logger})
	if err != nil {
		return cli.NewCommandError("ingest", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := monitor.Close(closeCtx); err != nil {
			a.logger.Error("close monitor", "error", err)
		}
	}()

	var pipeline ingest.Pipeline = monitor
	var progress *cli.Progress
	if !ingestFlags.quiet {
		progress = cli.NewProgress(cmd.ErrOrStderr(), monitor, ingestFlags.progress)
		pipeline = progress
	}

	report, err := decoder.Run(ctx, r, pipeline)
	if progress != nil {
		progress.Finish(report)
	}
	if err != nil {
		return cli.NewCommandError("ingest", err)
	}
	if !report.OK() {
		return fmt.Errorf("%w: %d invalid, %d failed of %d lines", cli.ErrRejected, report.Invalid, report.Failed, report.Lines)
	}
	return nil
}
