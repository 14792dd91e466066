package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cylestio/cylestio-monitor/pkg/cli"
	"github.com/cylestio/cylestio-monitor/pkg/retention"
)

var cleanupFlags struct {
	days    int
	archive bool
	format  string
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete events older than the retention period",
	Long: `Delete events older than --days (default retention.days), together with
their LLM, tool, security and performance records. Agents, sessions and
conversations left without events are removed as well.

With --archive (or retention.archive_before_delete) expiring events are
written to a JSON-lines file under retention.archive_path first.

Examples:
  # Keep the last 7 days
  cylestio cleanup --days 7

  # Archive before deleting
  cylestio cleanup --days 90 --archive`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVarP(&cleanupFlags.days, "days", "d", 0, "delete events older than this many days")
	cleanupCmd.Flags().BoolVar(&cleanupFlags.archive, "archive", false, "archive events before deleting them")
	cleanupCmd.Flags().StringVarP(&cleanupFlags.format, "format", "f", "text", "output format (text, json)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(cleanupFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	a, err := loadApp()
	if err != nil {
		return err
	}

	cfg := a.cfg.Retention
	if cmd.Flags().Changed("days") {
		if cleanupFlags.days < 0 {
			return cli.NewConfigError("days", "must be >= 0")
		}
		cfg.Days = cleanupFlags.days
	}
	if cleanupFlags.archive {
		cfg.ArchiveBeforeDelete = true
	}

	st, err := a.openStore(cmd.Context())
	if err != nil {
		return cli.NewCommandError("cleanup", err)
	}
	defer st.Close()

	result, err := retention.NewPruner(st, cfg, nil, a.logger).Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("cleanup", err)
	}

	out := cmd.OutOrStdout()
	if format != cli.FormatText {
		return cli.NewFormatter(format).FormatTo(out, map[string]any{
			"days":            cfg.Days,
			"cutoff":          result.Cutoff,
			"deleted":         result.Deleted,
			"archived":        result.Archived,
			"orphans_removed": result.Orphans,
			"archive_file":    result.ArchiveFile,
		})
	}

	if cfg.Days <= 0 {
		fmt.Fprintln(out, "Retention is disabled (days = 0); nothing deleted")
		return nil
	}
	fmt.Fprintf(out, "✓ Deleted %d events older than %s\n", result.Deleted, result.Cutoff.Format("2006-01-02 15:04:05 MST"))
	if result.ArchiveFile != "" {
		fmt.Fprintf(out, "✓ Archived %d events to %s\n", result.Archived, result.ArchiveFile)
	}
	if result.Orphans > 0 {
		fmt.Fprintf(out, "✓ Removed %d empty agents, sessions and conversations\n", result.Orphans)
	}
	return nil
}
