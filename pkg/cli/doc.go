/*
Package cli provides command-line helpers for the cylestio command.

Output Formatting:

Query results print as an aligned table, JSON or CSV. Events use the
export formats so command output matches exported files:

	format, err := cli.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	return cli.WriteEvents(ctx, os.Stdout, format, evs)

Other results implement Table and go through NewFormatter.

Progress Reporting:

Progress wraps an ingest pipeline and prints a running count:

	progress := cli.NewProgress(os.Stderr, monitor, 1000)
	report, err := decoder.Run(ctx, file, progress)
	progress.Finish(report)

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

Exit Codes:

ExitCode maps command errors to process exit codes: 2 for configuration
errors, 3 when input was rejected, 1 otherwise.
*/
package cli
