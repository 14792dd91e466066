package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cylestio/cylestio-monitor/pkg/cli"
	"github.com/cylestio/cylestio-monitor/pkg/store"
)

var dbFlags struct {
	force  bool
	format string
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the event database",
	Long: `Create, verify, update or reset the SQLite event database.

Subcommands:
  init      - Create missing tables and indexes
  verify    - Compare the schema with the expected one (read only)
  update    - Add missing tables, columns and indexes
  reset     - Back up, drop and recreate the database (requires --force)
  optimize  - Merge the search index, refresh statistics and vacuum`,
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create missing tables and indexes",
	Args:  cobra.NoArgs,
	RunE:  runDBInit,
}

var dbVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the database schema",
	Long: `Verify the database schema without modifying it.

Extra tables and columns are reported but tolerated. Missing tables or
columns and type mismatches make the command exit with status 3.`,
	Args: cobra.NoArgs,
	RunE: runDBVerify,
}

var dbUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Add missing tables, columns and indexes",
	Long: `Add missing tables, columns and indexes. Existing columns are never
dropped or altered, so running update twice is a no-op.`,
	Args: cobra.NoArgs,
	RunE: runDBUpdate,
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Back up and recreate the database",
	Long: `Back up the database file next to itself, drop every table and
recreate the schema. All events are lost from the live database.

Examples:
  cylestio db reset --force`,
	Args: cobra.NoArgs,
	RunE: runDBReset,
}

var dbOptimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Compact the database and refresh query statistics",
	Long: `Merge the full text index, run ANALYZE and VACUUM, and truncate the
write-ahead log. Writers block until the run finishes.`,
	Args: cobra.NoArgs,
	RunE: runDBOptimize,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbInitCmd, dbVerifyCmd, dbUpdateCmd, dbResetCmd, dbOptimizeCmd)

	dbCmd.PersistentFlags().StringVarP(&dbFlags.format, "format", "f", "text", "output format (text, json)")
	dbResetCmd.Flags().BoolVar(&dbFlags.force, "force", false, "confirm the reset")
}

// withStore opens the configured database without preparing it.
func withStore(cmd *cobra.Command, fn func(a *app, st *store.Store) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	st, err := store.Open(a.cfg.Storage, a.logger)
	if err != nil {
		return cli.NewCommandError(cmd.CommandPath(), err)
	}
	defer st.Close()

	if err := fn(a, st); err != nil {
		return cli.NewCommandError(cmd.CommandPath(), err)
	}
	return nil
}

func printResult(cmd *cobra.Command, text string, v any) error {
	format, err := cli.ParseFormat(dbFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	if format == cli.FormatText {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), v)
}

func runDBInit(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(a *app, st *store.Store) error {
		if err := st.Initialize(cmd.Context()); err != nil {
			return err
		}
		return printResult(cmd,
			fmt.Sprintf("✓ Database initialized at %s (schema version %d)", st.Path(), store.SchemaVersion),
			map[string]any{"path": st.Path(), "schema_version": store.SchemaVersion, "full_text_search": st.FullText()})
	})
}

func runDBVerify(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(a *app, st *store.Store) error {
		report, err := st.VerifySchema(cmd.Context())
		if err != nil {
			return err
		}

		mark := "✓"
		if !report.Compatible() {
			mark = "✗"
		}
		if err := printResult(cmd, fmt.Sprintf("%s %s", mark, report.Summary()), report); err != nil {
			return err
		}
		if !report.Compatible() {
			return fmt.Errorf("%w: schema is not compatible", cli.ErrRejected)
		}
		return nil
	})
}

func runDBUpdate(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(a *app, st *store.Store) error {
		report, err := st.UpdateSchema(cmd.Context())
		if err != nil {
			return err
		}

		var lines []string
		if !report.Changed() {
			lines = append(lines, "✓ Schema already up to date")
		}
		if len(report.TablesAdded) > 0 {
			lines = append(lines, "✓ Tables added: "+strings.Join(report.TablesAdded, ", "))
		}
		for _, t := range sortedKeys(report.ColumnsAdded) {
			lines = append(lines, fmt.Sprintf("✓ Columns added to %s: %s", t, strings.Join(report.ColumnsAdded[t], ", ")))
		}
		if len(report.IndexesAdded) > 0 {
			lines = append(lines, "✓ Indexes added: "+strings.Join(report.IndexesAdded, ", "))
		}
		for _, t := range sortedKeys(report.Unresolved) {
			lines = append(lines, fmt.Sprintf("✗ Type mismatch left unchanged in %s: %s", t, strings.Join(report.Unresolved[t], ", ")))
		}
		return printResult(cmd, strings.Join(lines, "\n"), report)
	})
}

func runDBReset(cmd *cobra.Command, args []string) error {
	if !dbFlags.force {
		return cli.NewConfigError("force", "db reset deletes every event; pass --force to confirm")
	}
	return withStore(cmd, func(a *app, st *store.Store) error {
		report, err := st.ResetDatabase(cmd.Context(), true)
		if err != nil {
			return err
		}

		text := fmt.Sprintf("✓ Dropped %d tables and recreated the schema", len(report.TablesDropped))
		if report.BackedUp {
			text += "\n✓ Backup written to " + report.BackupPath
		}
		return printResult(cmd, text, report)
	})
}

func runDBOptimize(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(a *app, st *store.Store) error {
		if _, err := st.Prepare(cmd.Context()); err != nil {
			return err
		}
		report, err := st.Optimize(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd,
			fmt.Sprintf("✓ Database optimized in %s (reclaimed %d bytes)", report.Duration.Round(time.Millisecond), report.Reclaimed()),
			report)
	})
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
