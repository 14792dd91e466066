package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cylestio/cylestio-monitor/pkg/events"
)

// CSVExporter exports events to CSV, one row per event.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{
		IncludeHeader: includeHeader,
	}
}

// Export writes evs to w in CSV format.
func (e *CSVExporter) Export(ctx context.Context, evs []*events.Normalized, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(header()); err != nil {
			return NewExportError("csv", 0, err)
		}
	}

	for i, ev := range evs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(row(ev)); err != nil {
			return NewExportError("csv", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return NewExportError("csv", len(evs), err)
	}
	return nil
}

// ExportStream writes events from a channel in CSV format, flushing every
// 100 rows.
func (e *CSVExporter) ExportStream(ctx context.Context, ch <-chan *events.Normalized, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(header()); err != nil {
			return NewExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-ch:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return NewExportError("csv", count, err)
				}
				return nil
			}

			if err := writer.Write(row(ev)); err != nil {
				return NewExportError("csv", count, err)
			}
			count++

			if count%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return NewExportError("csv", count, err)
				}
			}
		}
	}
}

func header() []string {
	return []string{
		"id", "timestamp", "agent_id", "session_id", "conversation_id",
		"event_type", "channel", "level", "direction",
		"trace_id", "span_id", "parent_span_id",
		"model", "prompt", "response", "tokens_in", "tokens_out", "cost",
		"tool_name", "tool_params", "tool_result", "tool_success", "tool_error",
		"duration_ms", "alert_level", "matched_terms", "alert_count", "data",
	}
}

func row(n *events.Normalized) []string {
	ev := n.Event

	var (
		model, prompt, response, tokensIn, tokensOut, cost string
		tool, params, result, success, toolErr           string
		duration                                         int64
	)
	if c := n.LLMCall; c != nil {
		model, prompt, response = c.Model, c.Prompt, c.Response
		tokensIn = strconv.Itoa(c.TokensIn)
		tokensOut = strconv.Itoa(c.TokensOut)
		cost = fmt.Sprintf("%.6f", c.Cost)
		duration = c.DurationMS
	}
	if c := n.ToolCall; c != nil {
		tool, params, result, toolErr = c.ToolName, c.InputParams, c.OutputResult, c.ErrorMessage
		if c.Success != nil {
			success = strconv.FormatBool(*c.Success)
		}
		duration = c.DurationMS
	}

	var terms string
	if n.Security != nil {
		terms = strings.Join(n.Security.MatchedTerms, ";")
	}

	var data string
	if len(ev.Extra) > 0 {
		raw, _ := json.Marshal(ev.Extra)
		data = string(raw)
	}

	return []string{
		strconv.FormatInt(ev.ID, 10),
		formatTime(ev.Timestamp),
		ev.AgentID, ev.SessionID, ev.ConversationID,
		ev.EventType, ev.Channel, ev.Level, ev.Direction,
		ev.TraceID, ev.SpanID, ev.ParentSpanID,
		model, prompt, response, tokensIn, tokensOut, cost,
		tool, params, result, success, toolErr,
		strconv.FormatInt(duration, 10),
		n.AlertLevel(), terms, strconv.Itoa(len(n.Alerts)), data,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
