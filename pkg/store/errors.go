package store

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNotReady is returned by writes before the schema has been verified.
	ErrNotReady = errors.New("store: schema not verified")

	// ErrResetNotConfirmed is returned by ResetDatabase without force.
	ErrResetNotConfirmed = errors.New("store: reset requires force")

	// ErrHierarchy is returned when a session or conversation is reused
	// under a different agent or session.
	ErrHierarchy = errors.New("store: inconsistent agent/session/conversation chain")
)

// Kind classifies a storage failure.
type Kind string

const (
	// KindTransient failures (busy, locked) may succeed on retry.
	KindTransient Kind = "transient"

	// KindStructural failures mean the schema does not match what the code
	// expects; retrying will not help.
	KindStructural Kind = "structural"

	// KindConstraint failures are rejected by a constraint or hierarchy check.
	KindConstraint Kind = "constraint"

	KindOther Kind = "other"
)

// StorageError wraps a database failure with the operation that caused it.
type StorageError struct {
	Op    string
	Kind  Kind
	Cause error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [operation=%s, kind=%s]: %v", e.Op, e.Kind, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// newError wraps cause, classifying it by driver result code.
func newError(op string, cause error) *StorageError {
	var se *StorageError
	if errors.As(cause, &se) {
		return &StorageError{Op: op, Kind: se.Kind, Cause: se.Cause}
	}
	return &StorageError{Op: op, Kind: classify(cause), Cause: cause}
}

// IsTransient reports whether err is a storage failure worth retrying.
func IsTransient(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	return classify(err) == KindTransient
}

// IsStructural reports whether err stems from a schema mismatch.
func IsStructural(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind == KindStructural
	}
	return classify(err) == KindStructural
}

func classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, ErrNotReady) {
		return KindStructural
	}
	if errors.Is(err, ErrHierarchy) {
		return KindConstraint
	}

	var ce *sqlite.Error
	if errors.As(err, &ce) {
		switch ce.Code() & 0xff {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return KindTransient
		case sqlitelib.SQLITE_CONSTRAINT:
			return KindConstraint
		}
	}

	// go-sqlite3 errors are only typed under cgo; match on the message.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "sqlite_busy"):
		return KindTransient
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"),
		strings.Contains(msg, "has no column named"):
		return KindStructural
	case strings.Contains(msg, "constraint failed"):
		return KindConstraint
	}
	return KindOther
}
