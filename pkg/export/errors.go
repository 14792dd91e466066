package export

import "fmt"

// ExportError represents an error during event export.
type ExportError struct {
	Format     string // Export format ("json", "jsonl", "csv")
	EventCount int    // Number of events written before the failure
	Cause      error  // Underlying error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, event_count=%d]: %v", e.Format, e.EventCount, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, eventCount int, cause error) *ExportError {
	return &ExportError{
		Format:     format,
		EventCount: eventCount,
		Cause:      cause,
	}
}
