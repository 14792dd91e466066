package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cylestio/cylestio-monitor/pkg/events"
)

// Exporter writes a batch of events.
type Exporter interface {
	Export(ctx context.Context, evs []*events.Normalized, w io.Writer) error
}

// New returns the exporter for format: "json", "jsonl" or "csv".
func New(format string) (Exporter, error) {
	switch format {
	case "json":
		return NewJSONExporter(true), nil
	case "jsonl":
		return &JSONLinesExporter{}, nil
	case "csv":
		return NewCSVExporter(true), nil
	default:
		return nil, NewExportError(format, 0, fmt.Errorf("unknown export format %q", format))
	}
}

// JSONExporter exports events as a JSON array.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{
		Pretty: pretty,
	}
}

// Export writes evs to w as a JSON array.
func (e *JSONExporter) Export(ctx context.Context, evs []*events.Normalized, w io.Writer) error {
	if evs == nil {
		evs = []*events.Normalized{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(evs, "", "  ")
	} else {
		data, err = json.Marshal(evs)
	}
	if err != nil {
		return NewExportError("json", 0, err)
	}

	if _, err := w.Write(data); err != nil {
		return NewExportError("json", 0, err)
	}
	return nil
}

// ExportStream writes events from a channel as a JSON array without
// holding them all in memory.
func (e *JSONExporter) ExportStream(ctx context.Context, ch <-chan *events.Normalized, w io.Writer) error {
	if _, err := w.Write([]byte("[")); err != nil {
		return NewExportError("json", 0, err)
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-ch:
			if !ok {
				if _, err := w.Write([]byte("]")); err != nil {
					return NewExportError("json", count, err)
				}
				return nil
			}

			if count > 0 {
				sep := ","
				if e.Pretty {
					sep = ",\n"
				}
				if _, err := io.WriteString(w, sep); err != nil {
					return NewExportError("json", count, err)
				}
			}

			var data []byte
			var err error
			if e.Pretty {
				data, err = json.MarshalIndent(ev, "  ", "  ")
			} else {
				data, err = json.Marshal(ev)
			}
			if err != nil {
				return NewExportError("json", count, err)
			}
			if _, err := w.Write(data); err != nil {
				return NewExportError("json", count, err)
			}
			count++
		}
	}
}

// JSONLinesExporter writes one JSON document per line.
type JSONLinesExporter struct {
	// Telemetry writes the telemetry envelope instead of the stored form.
	Telemetry bool
}

// Export writes evs to w, one per line.
func (e *JSONLinesExporter) Export(ctx context.Context, evs []*events.Normalized, w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, ev := range evs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var data []byte
		var err error
		if e.Telemetry {
			data, err = events.MarshalEnvelope(ev)
		} else {
			data, err = json.Marshal(ev)
		}
		if err != nil {
			return NewExportError("jsonl", i, err)
		}
		if _, err := bw.Write(data); err != nil {
			return NewExportError("jsonl", i, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return NewExportError("jsonl", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return NewExportError("jsonl", len(evs), err)
	}
	return nil
}
