package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cylestio/cylestio-monitor/pkg/cli"
	"github.com/cylestio/cylestio-monitor/pkg/detection"
	"github.com/cylestio/cylestio-monitor/pkg/events"
)

var scanFlags struct {
	text   string
	file   string
	field  string
	format string
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Screen text with the configured patterns",
	Long: `Screen a piece of text the way an intercepted call is screened and
print the masked text, alert level and matches. Nothing is stored.

The command exits with status 3 when the verdict blocks the call.

Examples:
  # Screen a literal string
  cylestio scan --text "my ssn is 123-45-6789"

  # Screen a file, or stdin with "-"
  cylestio scan --file prompt.txt --format json
  echo "drop table users" | cylestio scan --file -`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanFlags.text, "text", "t", "", "text to screen")
	scanCmd.Flags().StringVar(&scanFlags.file, "file", "", "file to screen (\"-\" for stdin)")
	scanCmd.Flags().StringVar(&scanFlags.field, "field", events.FieldPrompt, "field name reported with the result")
	scanCmd.Flags().StringVarP(&scanFlags.format, "format", "f", "text", "output format (text, json, csv)")
	scanCmd.MarkFlagsMutuallyExclusive("text", "file")
	scanCmd.MarkFlagsOneRequired("text", "file")
}

// scanResult is the printable outcome of a scan.
type scanResult struct {
	Field      string                  `json:"field"`
	AlertLevel detection.AlertLevel    `json:"alert_level"`
	Block      bool                    `json:"block"`
	Reason     string                  `json:"reason,omitempty"`
	Masked     string                  `json:"masked"`
	Matches    []detection.MatchResult `json:"matches"`
	Skipped    []string                `json:"skipped_rules,omitempty"`
}

// Header implements cli.Table.
func (r scanResult) Header() []string {
	return []string{"PATTERN", "CATEGORY", "SEVERITY", "START", "END"}
}

// Rows implements cli.Table.
func (r scanResult) Rows() [][]string {
	rows := make([][]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		rows = append(rows, []string{
			m.PatternID, m.Category, string(m.Severity),
			strconv.Itoa(m.Start), strconv.Itoa(m.End),
		})
	}
	return rows
}

func runScan(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(scanFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	text, err := scanInput(cmd.InOrStdin())
	if err != nil {
		return cli.NewCommandError("scan", err)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}

	fr := a.engine.Screen(scanFlags.field, text)
	result := scanResult{
		Field:      fr.Field,
		AlertLevel: fr.Classification.AlertLevel,
		Block:      fr.Classification.Block,
		Reason:     fr.Classification.Reason,
		Masked:     fr.Masked,
		Matches:    fr.Classification.Matches,
	}
	if result.Matches == nil {
		result.Matches = []detection.MatchResult{}
	}
	for _, s := range fr.Skipped {
		result.Skipped = append(result.Skipped, fmt.Sprintf("%s (%s)", s.PatternID, s.Reason))
	}

	out := cmd.OutOrStdout()
	switch format {
	case cli.FormatText:
		fmt.Fprintf(out, "Alert level: %s\n", result.AlertLevel)
		if result.Reason != "" {
			fmt.Fprintf(out, "Reason: %s\n", result.Reason)
		}
		fmt.Fprintf(out, "Blocked: %t\n", result.Block)
		fmt.Fprintf(out, "Masked: %s\n", result.Masked)
		for _, s := range result.Skipped {
			fmt.Fprintf(out, "Skipped rule: %s\n", s)
		}
		if len(result.Matches) > 0 {
			fmt.Fprintln(out)
			if err := cli.NewFormatter(format).FormatTo(out, result); err != nil {
				return err
			}
		}
	default:
		if err := cli.NewFormatter(format).FormatTo(out, result); err != nil {
			return err
		}
	}

	if result.Block {
		return fmt.Errorf("%w: %s", cli.ErrRejected, result.Reason)
	}
	return nil
}

func scanInput(stdin io.Reader) (string, error) {
	switch scanFlags.file {
	case "":
		return scanFlags.text, nil
	case "-":
		data, err := io.ReadAll(stdin)
		return string(data), err
	default:
		data, err := os.ReadFile(scanFlags.file)
		return string(data), err
	}
}
