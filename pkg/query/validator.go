package query

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLimit is the default number of records to return if not specified.
	DefaultLimit = 100

	// MaxLimit is the maximum number of records that can be returned in a single query.
	MaxLimit = 10000
)

// ValidSortOrders contains the valid sort orders.
var ValidSortOrders = map[string]bool{
	"asc":  true,
	"desc": true,
}

// ValidLevels contains the accepted event levels.
var ValidLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warning": true,
	"error":   true,
	"alert":   true,
}

// ValidAlertLevels contains the accepted alert levels.
var ValidAlertLevels = map[string]bool{
	"none":       true,
	"suspicious": true,
	"dangerous":  true,
}

// ValidSeverities contains the accepted security alert severities.
var ValidSeverities = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// Filter selects events. Zero fields do not filter. Start is inclusive,
// End exclusive.
type Filter struct {
	AgentID        string     `json:"agent_id,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	EventType      string     `json:"event_type,omitempty"`
	Channel        string     `json:"channel,omitempty"`
	Level          string     `json:"level,omitempty"`
	AlertLevel     string     `json:"alert_level,omitempty"`
	TraceID        string     `json:"trace_id,omitempty"`
	Blocked        *bool      `json:"blocked,omitempty"`
	Start          *time.Time `json:"start,omitempty"`
	End            *time.Time `json:"end,omitempty"`
	Text           string     `json:"text,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
	SortOrder      string     `json:"sort_order,omitempty"`
}

// AlertFilter selects security alerts.
type AlertFilter struct {
	AgentID   string     `json:"agent_id,omitempty"`
	AlertType string     `json:"alert_type,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// Validate validates a filter and returns an error if any parameters are invalid.
func Validate(f *Filter) error {
	if err := validatePage(f.Limit, f.Offset); err != nil {
		return NewQueryError(f, err)
	}

	if f.SortOrder != "" && !ValidSortOrders[strings.ToLower(f.SortOrder)] {
		return NewQueryError(f, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", f.SortOrder))
	}

	if f.Level != "" && !ValidLevels[strings.ToLower(f.Level)] {
		return NewQueryError(f, fmt.Errorf("invalid level: %s", f.Level))
	}

	if f.AlertLevel != "" && !ValidAlertLevels[f.AlertLevel] {
		return NewQueryError(f, fmt.Errorf("invalid alert level: %s (must be 'none', 'suspicious', or 'dangerous')", f.AlertLevel))
	}

	if err := validateRange(f.Start, f.End); err != nil {
		return NewQueryError(f, err)
	}
	return nil
}

// ApplyDefaults applies default values to a filter.
func ApplyDefaults(f *Filter) {
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.SortOrder == "" {
		f.SortOrder = "desc"
	}
}

// ValidateAlerts validates an alert filter.
func ValidateAlerts(f *AlertFilter) error {
	if err := validatePage(f.Limit, f.Offset); err != nil {
		return NewQueryError(f, err)
	}
	if f.Severity != "" && !ValidSeverities[f.Severity] {
		return NewQueryError(f, fmt.Errorf("invalid severity: %s", f.Severity))
	}
	if err := validateRange(f.Start, f.End); err != nil {
		return NewQueryError(f, err)
	}
	return nil
}

func validatePage(limit, offset int) error {
	if limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", limit)
	}
	if limit > MaxLimit {
		return fmt.Errorf("limit must be <= %d, got %d", MaxLimit, limit)
	}
	if offset < 0 {
		return fmt.Errorf("offset must be >= 0, got %d", offset)
	}
	return nil
}

func validateRange(start, end *time.Time) error {
	if start != nil && end != nil && start.After(*end) {
		return fmt.Errorf("start must be before end")
	}
	return nil
}
