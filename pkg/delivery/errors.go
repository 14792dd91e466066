package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("delivery: sender closed")

	// ErrNoEndpoint is returned by New when delivery has no endpoint.
	ErrNoEndpoint = errors.New("delivery: endpoint not configured")
)

// DeliveryError describes an event that could not be delivered.
type DeliveryError struct {
	Endpoint   string // Collector URL
	StatusCode int    // Last HTTP status, 0 for transport errors
	Attempts   int    // Send attempts made
	Cause      error  // Underlying error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery error [endpoint=%s, status=%d, attempts=%d]: %v", e.Endpoint, e.StatusCode, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("delivery error [endpoint=%s, attempts=%d]: %v", e.Endpoint, e.Attempts, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// statusError is a non-2xx collector response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("collector returned status %d", e.code)
	}
	return fmt.Sprintf("collector returned status %d: %s", e.code, e.body)
}

// retryable reports whether a status is worth retrying: server errors,
// request timeouts and rate limiting.
func retryable(code int) bool {
	return code >= 500 || code == 408 || code == 429
}
