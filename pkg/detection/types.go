package detection

import "time"

// Built-in categories.
const (
	CategorySensitiveData      = "sensitive_data"
	CategoryDangerousCommands  = "dangerous_commands"
	CategoryPromptManipulation = "prompt_manipulation"
	CategoryCustom             = "custom"
)

// Severity is the severity of a pattern.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Kind distinguishes literal keywords from regular expressions.
type Kind string

const (
	KindKeyword Kind = "keyword"
	KindRegex   Kind = "regex"
)

// MaskMethod identifies a redaction strategy.
type MaskMethod string

const (
	// MaskNone leaves the match untouched.
	MaskNone MaskMethod = ""
	// MaskPartial keeps the first and last two characters.
	MaskPartial MaskMethod = "partial"
	// MaskFull replaces the match with its tag, e.g. [EMAIL].
	MaskFull MaskMethod = "full"
	// MaskStructural replaces digits and letters, keeping separators.
	MaskStructural MaskMethod = "structural"
	// MaskHash replaces the match with a truncated SHA-256 digest.
	MaskHash MaskMethod = "hash"
)

// PatternDefinition is one screening rule. Definitions are immutable once
// the registry is built.
type PatternDefinition struct {
	// ID is unique within a registry. Regex rules use their configured name;
	// keyword rules use "<category>/<keyword>".
	ID          string
	Category    string
	Kind        Kind
	Severity    Severity
	Description string

	// Source is the normalized keyword or the regex source.
	Source string

	// Context lists terms of which at least one must appear in the text for
	// a keyword rule to fire. Empty means no gating.
	Context []string

	MaskMethod MaskMethod
	MaskTag    string

	// Active is false for rules that failed to compile or were disabled.
	Active bool
}

// MatchResult is a single match of one rule against one input.
type MatchResult struct {
	PatternID string   `json:"pattern_id"`
	Category  string   `json:"category"`
	Severity  Severity `json:"severity"`

	// Start and End are byte offsets into the scanned text.
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"-"`

	MaskMethod MaskMethod `json:"mask_method,omitempty"`
	MaskTag    string     `json:"-"`
}

// SkipReason explains why a rule's output was dropped or cut short.
type SkipReason string

const (
	// SkipBudget means the rule ran past its time budget and its matches
	// were discarded.
	SkipBudget SkipReason = "budget_exceeded"
	// SkipMatchCap means the rule hit the match cap; the first matches up
	// to the cap are kept.
	SkipMatchCap SkipReason = "match_cap"
)

// SkippedRule reports a rule that did not complete normally.
type SkippedRule struct {
	PatternID string
	Reason    SkipReason
	Elapsed   time.Duration
}

// ScanReport is the full output of a scan.
type ScanReport struct {
	Matches  []MatchResult
	Skipped  []SkippedRule
	Duration time.Duration
}

// AlertLevel is the output of risk classification.
type AlertLevel string

const (
	AlertNone       AlertLevel = "none"
	AlertSuspicious AlertLevel = "suspicious"
	AlertDangerous  AlertLevel = "dangerous"
)

// Rank orders alert levels.
func (a AlertLevel) Rank() int {
	switch a {
	case AlertDangerous:
		return 2
	case AlertSuspicious:
		return 1
	default:
		return 0
	}
}

// MaxAlertLevel returns the higher of two alert levels.
func MaxAlertLevel(a, b AlertLevel) AlertLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	if a == "" {
		return AlertNone
	}
	return a
}

// ClassificationResult is the outcome of classifying a set of matches.
type ClassificationResult struct {
	AlertLevel AlertLevel    `json:"alert_level"`
	Matches    []MatchResult `json:"matches,omitempty"`
	Block      bool          `json:"block"`
	Reason     string        `json:"reason,omitempty"`

	// Category is the category that determined the alert level.
	Category string `json:"category,omitempty"`
}

// FieldResult is the screening outcome for one named text field.
type FieldResult struct {
	Field          string
	Masked         string
	Classification ClassificationResult
	Skipped        []SkippedRule
}
