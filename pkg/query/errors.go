package query

import "fmt"

// QueryError represents an error during query execution or validation.
type QueryError struct {
	Filter any   // Filter that failed
	Cause  error // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// NewQueryError creates a new QueryError.
func NewQueryError(filter any, cause error) *QueryError {
	return &QueryError{
		Filter: filter,
		Cause:  cause,
	}
}
