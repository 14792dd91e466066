package retention

import "fmt"

// RetentionError represents an error during a cleanup run.
type RetentionError struct {
	Days  int   // Configured retention period
	Cause error // Underlying error
}

// Error implements the error interface.
func (e *RetentionError) Error() string {
	return fmt.Sprintf("retention error [days=%d]: %v", e.Days, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RetentionError) Unwrap() error {
	return e.Cause
}

// NewRetentionError creates a new RetentionError.
func NewRetentionError(days int, cause error) *RetentionError {
	return &RetentionError{Days: days, Cause: cause}
}
