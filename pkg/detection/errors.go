package detection

import (
	"errors"
	"fmt"
)

// ErrInvalidPattern is wrapped by every ConfigError.
var ErrInvalidPattern = errors.New("invalid pattern")

// ConfigError reports a rule that could not be loaded. The rule stays in the
// registry marked inactive; loading continues with the remaining rules.
type ConfigError struct {
	PatternID string
	Cause     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("pattern %q: %v", e.PatternID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is reports ErrInvalidPattern for every ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidPattern
}

// NewConfigError creates a ConfigError.
func NewConfigError(patternID string, cause error) *ConfigError {
	return &ConfigError{PatternID: patternID, Cause: cause}
}
