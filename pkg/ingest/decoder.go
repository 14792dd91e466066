package ingest

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/events"
)

//go:embed record.schema.json
var recordSchemaJSON []byte

const recordSchemaURL = "record.schema.json"

// CompileRecordSchema compiles the embedded JSON schema for spool records.
func CompileRecordSchema() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(recordSchemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("record schema unmarshal error: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(recordSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("record schema compile error: %w", err)
	}
	return c.Compile(recordSchemaURL)
}

// LineError describes one rejected line.
type LineError struct {
	Line  int
	Cause error
}

// Error implements the error interface.
func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *LineError) Unwrap() error {
	return e.Cause
}

// Report summarizes one JSON-lines input.
type Report struct {
	Lines    int
	Ingested int
	Blocked  int
	Invalid  int
	Failed   int
	Errors   []*LineError

	// LastLine is the number of the last line fully handled, counting
	// skipped and blank lines. A resumed run starts after it.
	LastLine int
}

// checkpointEvery is how many lines pass between Resume checkpoints.
const checkpointEvery = 64

// OK reports whether every record was ingested.
func (r Report) OK() bool {
	return r.Invalid == 0 && r.Failed == 0
}

// Decoder reads JSON-lines records and hands them to a Pipeline.
type Decoder struct {
	schema       *jsonschema.Schema
	defaultAgent string
	maxLine      int
	logger       *slog.Logger
}

// NewDecoder creates a decoder. Records without an agent id get
// defaultAgent. With cfg.ValidateSchema each line is checked against the
// embedded record schema before decoding.
func NewDecoder(cfg config.IngestConfig, defaultAgent string, logger *slog.Logger) (*Decoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Decoder{
		defaultAgent: defaultAgent,
		maxLine:      cfg.MaxLineBytes,
		logger:       logger.With("component", "ingest.decoder"),
	}
	if d.maxLine <= 0 {
		d.maxLine = config.DefaultIngestMaxLineBytes
	}
	if cfg.ValidateSchema {
		schema, err := CompileRecordSchema()
		if err != nil {
			return nil, err
		}
		d.schema = schema
	}
	return d, nil
}

// Decode parses one line into a record.
func (d *Decoder) Decode(line []byte) (events.RawRecord, error) {
	var rec events.RawRecord
	if d.schema != nil {
		var doc any
		if err := json.Unmarshal(line, &doc); err != nil {
			return rec, fmt.Errorf("invalid JSON: %w", err)
		}
		if err := d.schema.Validate(doc); err != nil {
			return rec, fmt.Errorf("schema validation failed: %w", err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	if err := dec.Decode(&rec); err != nil {
		return rec, fmt.Errorf("invalid record: %w", err)
	}
	if rec.AgentID == "" {
		rec.AgentID = d.defaultAgent
	}
	return rec, nil
}

// Run ingests every non-empty line of r through p. Bad lines are counted
// and reported; the run stops early only when ctx is done or r fails.
func (d *Decoder) Run(ctx context.Context, r io.Reader, p Pipeline) (Report, error) {
	return d.Resume(ctx, r, p, 0, nil)
}

// Resume is Run starting after line skip. When checkpoint is set it is
// called with Report.LastLine every checkpointEvery lines. A line whose
// ingest is cut short by ctx is not counted as handled.
func (d *Decoder) Resume(ctx context.Context, r io.Reader, p Pipeline, skip int, checkpoint func(line int)) (Report, error) {
	report := Report{LastLine: skip}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), d.maxLine)

	lineNo, marked := 0, skip
	for scanner.Scan() {
		lineNo++
		if lineNo <= skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if checkpoint != nil && report.LastLine-marked >= checkpointEvery {
			checkpoint(report.LastLine)
			marked = report.LastLine
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			report.LastLine = lineNo
			continue
		}
		report.Lines++

		rec, err := d.Decode(line)
		if err != nil {
			report.Invalid++
			report.Errors = append(report.Errors, &LineError{Line: lineNo, Cause: err})
			report.LastLine = lineNo
			continue
		}

		res, err := p.Ingest(ctx, rec)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				report.Lines--
				return report, ctxErr
			}
			if errors.Is(err, events.ErrInvalidRecord) {
				report.Invalid++
			} else {
				report.Failed++
			}
			report.Errors = append(report.Errors, &LineError{Line: lineNo, Cause: err})
			report.LastLine = lineNo
			continue
		}
		report.Ingested++
		if res.Blocked {
			report.Blocked++
		}
		report.LastLine = lineNo
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("read records: %w", err)
	}

	for _, le := range report.Errors {
		d.logger.WarnContext(ctx, "record rejected", "line", le.Line, "error", le.Cause)
	}
	return report, nil
}
