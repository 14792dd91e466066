package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/export"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is an aligned table or plain text (default).
	FormatText OutputFormat = "text"
	// FormatJSON is JSON output.
	FormatJSON OutputFormat = "json"
	// FormatCSV is CSV output.
	FormatCSV OutputFormat = "csv"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (must be text, json or csv)", s)
	}
}

// Table is tabular command output. Text and CSV formatters render it as
// rows; the JSON formatter ignores it and encodes the value itself.
type Table interface {
	Header() []string
	Rows() [][]string
}

// Formatter formats command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TextFormatter prints tables aligned in columns and anything else with %v.
type TextFormatter struct{}

// FormatTo writes data to writer in text format.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	t, ok := data.(Table)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if h := t.Header(); len(h) > 0 {
		fmt.Fprintln(tw, strings.Join(h, "\t"))
	}
	for _, r := range t.Rows() {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data to writer in JSON format.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// CSVFormatter formats tables as CSV.
type CSVFormatter struct{}

// FormatTo writes data to writer in CSV format. data must be a Table.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	t, ok := data.(Table)
	if !ok {
		return fmt.Errorf("csv output not supported for %T", data)
	}

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(t.Header()); err != nil {
		return err
	}
	if err := csvWriter.WriteAll(t.Rows()); err != nil {
		return err
	}
	return csvWriter.Error()
}

// NewFormatter creates a new formatter for the specified format.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TextFormatter{}
	}
}

// WriteEvents prints events. JSON and CSV use the export formats so
// command output matches exported files.
func WriteEvents(ctx context.Context, w io.Writer, format OutputFormat, evs []*events.Normalized) error {
	switch format {
	case FormatJSON:
		return export.NewJSONExporter(true).Export(ctx, evs, w)
	case FormatCSV:
		return export.NewCSVExporter(true).Export(ctx, evs, w)
	default:
		return (&TextFormatter{}).FormatTo(w, EventTable(evs))
	}
}

// EventTable renders events one per row with a short summary column.
type EventTable []*events.Normalized

// Header implements Table.
func (t EventTable) Header() []string {
	return []string{"ID", "TIME", "AGENT", "TYPE", "CHANNEL", "LEVEL", "ALERT", "SUMMARY"}
}

// Rows implements Table.
func (t EventTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, n := range t {
		ev := n.Event
		rows = append(rows, []string{
			strconv.FormatInt(ev.ID, 10),
			ev.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			ev.AgentID,
			ev.EventType,
			ev.Channel,
			ev.Level,
			n.AlertLevel(),
			summary(n),
		})
	}
	return rows
}

const summaryWidth = 60

func summary(n *events.Normalized) string {
	var s string
	switch {
	case n.LLMCall != nil:
		s = n.LLMCall.Model
		if n.LLMCall.Prompt != "" {
			s += ": " + n.LLMCall.Prompt
		}
	case n.ToolCall != nil:
		s = n.ToolCall.ToolName
		if n.ToolCall.InputParams != "" {
			s += " " + n.ToolCall.InputParams
		}
	case n.Security != nil && n.Security.Reason != "":
		s = n.Security.Reason
	}
	return Truncate(strings.Join(strings.Fields(s), " "), summaryWidth)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
