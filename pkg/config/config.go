package config

import "time"

// Config is the root configuration structure for cylestio-monitor.
// It contains all configuration sections for content screening, storage,
// retention, remote delivery, spool ingestion, and telemetry.
type Config struct {
	// Agent identifies the monitored agent when a record does not carry
	// its own agent id.
	Agent AgentConfig `yaml:"agent"`

	// Security contains the pattern definitions used to screen call text
	// and the policy used to classify matches.
	Security SecurityConfig `yaml:"security"`

	// Storage contains configuration for the relational event store.
	Storage StorageConfig `yaml:"storage"`

	// Retention contains configuration for periodic event cleanup.
	Retention RetentionConfig `yaml:"retention"`

	// Delivery contains configuration for forwarding telemetry to a
	// remote collection endpoint.
	Delivery DeliveryConfig `yaml:"delivery"`

	// Ingest contains configuration for the spool directory watcher.
	Ingest IngestConfig `yaml:"ingest"`

	// Telemetry contains configuration for logging, metrics, and health.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AgentConfig describes the default agent for records without an agent id.
type AgentConfig struct {
	// ID is the external agent identifier.
	// Default: "default-agent"
	ID string `yaml:"id"`

	// Name is an optional display name stored with the agent row.
	Name string `yaml:"name"`

	// Description is an optional free-form description.
	Description string `yaml:"description"`
}

// SecurityConfig contains pattern definitions and classification policy.
type SecurityConfig struct {
	// IncludeDefaults merges the built-in categories and regex patterns with
	// the ones declared here. Entries declared here replace built-ins with
	// the same name.
	// Default: true
	IncludeDefaults bool `yaml:"include_defaults"`

	// Categories maps a category name to its keyword list.
	// Built-in names: sensitive_data, dangerous_commands, prompt_manipulation.
	Categories map[string]CategoryConfig `yaml:"categories"`

	// Patterns maps a pattern name to a regular expression rule.
	Patterns map[string]PatternConfig `yaml:"patterns"`

	// RuleBudget is the maximum time a single rule may spend on one input.
	// A rule that exceeds it is skipped for that input and reported.
	// Default: 50ms
	RuleBudget time.Duration `yaml:"rule_budget"`

	// MaxMatchesPerRule caps the number of matches one rule may produce
	// on a single input.
	// Default: 1000
	MaxMatchesPerRule int `yaml:"max_matches_per_rule"`

	// BlockingCategories lists categories whose high-severity matches block
	// the call. Matches in dangerous_commands always block.
	// Default: ["dangerous_commands"]
	BlockingCategories []string `yaml:"blocking_categories"`

	// AlertOnSuspicious lists categories whose suspicious matches also raise
	// a SecurityAlert.
	AlertOnSuspicious []string `yaml:"alert_on_suspicious"`

	// DefaultMaskMethod is used for sensitive_data keywords and regex rules
	// that do not name a mask method.
	// Default: "full"
	DefaultMaskMethod string `yaml:"default_mask_method"`

	// MaxTextLength truncates stored prompt, response and argument text.
	// Zero keeps the full text.
	MaxTextLength int `yaml:"max_text_length"`
}

// CategoryConfig is a keyword category.
type CategoryConfig struct {
	// Enabled turns the category on or off. Nil means enabled.
	Enabled *bool `yaml:"enabled"`

	// Severity is one of "low", "medium", "high".
	Severity string `yaml:"severity"`

	// Description is a human-readable description.
	Description string `yaml:"description"`

	// Keywords are matched case-insensitively. Single words match on word
	// boundaries, multi-word phrases match as substrings.
	Keywords []string `yaml:"keywords"`

	// MaskMethod is the redaction strategy for keyword matches. Empty means
	// keyword matches are left unmasked, except in sensitive_data.
	MaskMethod string `yaml:"mask_method"`

	// RequireContext gates a keyword on the presence of at least one of the
	// listed context terms anywhere in the text, e.g. "drop" only counts
	// when "table" or "database" also appears.
	RequireContext map[string][]string `yaml:"require_context"`
}

// IsEnabled reports whether the category is enabled.
func (c CategoryConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// PatternConfig is a named regular expression rule.
type PatternConfig struct {
	// Enabled turns the pattern on or off. Nil means enabled.
	Enabled *bool `yaml:"enabled"`

	// Regex is an RE2 expression. Case sensitivity is as authored; use (?i)
	// for case-insensitive matching.
	Regex string `yaml:"regex"`

	// Category is the category reported for matches.
	Category string `yaml:"category"`

	// Severity is one of "low", "medium", "high".
	Severity string `yaml:"severity"`

	// Description is a human-readable description.
	Description string `yaml:"description"`

	// MaskMethod is one of "partial", "full", "structural", "hash".
	MaskMethod string `yaml:"mask_method"`

	// MaskTag replaces the match under the full strategy, e.g. "[EMAIL]".
	// Defaults to the upper-cased pattern name in brackets.
	MaskTag string `yaml:"mask_tag"`
}

// IsEnabled reports whether the pattern is enabled.
func (p PatternConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// StorageConfig contains configuration for the SQLite event store.
type StorageConfig struct {
	// Driver selects the database/sql driver: "sqlite" (modernc, pure Go)
	// or "sqlite3" (mattn, cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Path is the database file path. ":memory:" is accepted for tests.
	// Default: "cylestio_monitor.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging so readers do not block on the
	// single writer.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// WriteRetries is the number of extra attempts for a write that fails
	// with a transient error.
	// Default: 3
	WriteRetries int `yaml:"write_retries"`

	// FullTextSearch enables the FTS5 index over stored text. Search falls
	// back to LIKE when the driver lacks FTS5.
	// Default: true
	FullTextSearch bool `yaml:"full_text_search"`
}

// RetentionConfig contains configuration for event cleanup.
type RetentionConfig struct {
	// Days is the number of days events are kept.
	// Default: 30
	Days int `yaml:"days"`

	// Schedule is a cron expression for periodic cleanup.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`

	// BatchSize is the number of events deleted per transaction.
	// Default: 500
	BatchSize int `yaml:"batch_size"`

	// ArchiveBeforeDelete exports expiring events to ArchivePath first.
	ArchiveBeforeDelete bool `yaml:"archive_before_delete"`

	// ArchivePath is the directory for archive files.
	// Default: "./archive"
	ArchivePath string `yaml:"archive_path"`
}

// DeliveryConfig contains configuration for remote telemetry delivery.
type DeliveryConfig struct {
	// Enabled turns remote delivery on.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the collector URL events are POSTed to.
	Endpoint string `yaml:"endpoint"`

	// Timeout is the per-request HTTP timeout.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// QueueSize bounds the in-memory delivery queue.
	// Default: 1000
	QueueSize int `yaml:"queue_size"`

	// OverflowPolicy is "drop_oldest" or "block".
	// Default: "drop_oldest"
	OverflowPolicy string `yaml:"overflow_policy"`

	// Workers is the number of sender goroutines.
	// Default: 2
	Workers int `yaml:"workers"`

	// MaxAttempts bounds the number of send attempts per event.
	// Default: 5
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the first retry interval.
	// Default: 200ms
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the retry interval.
	// Default: 10s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// DeadLetterPath is a JSON-lines file undeliverable events are appended
	// to. Empty disables the dead-letter file.
	DeadLetterPath string `yaml:"dead_letter_path"`

	// Headers are added to every delivery request.
	Headers map[string]string `yaml:"headers"`
}

// IngestConfig contains configuration for spool directory ingestion.
type IngestConfig struct {
	// SpoolDir is watched for JSON-lines record files. Empty disables the
	// watcher.
	SpoolDir string `yaml:"spool_dir"`

	// Pattern selects which files in SpoolDir are ingested.
	// Default: "*.jsonl"
	Pattern string `yaml:"pattern"`

	// ValidateSchema validates each line against the record JSON schema
	// before decoding.
	// Default: true
	ValidateSchema bool `yaml:"validate_schema"`

	// MaxLineBytes bounds a single spool line.
	// Default: 1048576
	MaxLineBytes int `yaml:"max_line_bytes"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Health contains health endpoint configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains configuration for structured logging.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`

	// Redact passes string attributes through the masking engine.
	// Default: true
	Redact bool `yaml:"redact"`
}

// MetricsConfig contains configuration for Prometheus metrics.
type MetricsConfig struct {
	// Enabled exposes metrics over HTTP.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address of the metrics and health server.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// Path is the metrics endpoint path.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "cylestio"
	Namespace string `yaml:"namespace"`
}

// HealthConfig contains configuration for health endpoints.
type HealthConfig struct {
	// LivenessPath is the liveness endpoint path.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness endpoint path.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`
}
