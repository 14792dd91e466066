package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "storage.path").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

var (
	validSeverities  = map[string]bool{"low": true, "medium": true, "high": true}
	validMaskMethods = map[string]bool{"partial": true, "full": true, "structural": true, "hash": true}
)

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
//
// Regex patterns are not compiled here. A pattern that fails to compile is
// reported by the detection registry and disabled without failing startup.
func Validate(cfg *Config) error {
	var errs []FieldError

	if strings.TrimSpace(cfg.Agent.ID) == "" {
		errs = append(errs, FieldError{Field: "agent.id", Message: "agent id is required"})
	}

	errs = append(errs, validateSecurity(&cfg.Security)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateDelivery(&cfg.Delivery)...)
	errs = append(errs, validateIngest(&cfg.Ingest)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if cfg.RuleBudget < 0 {
		errs = append(errs, FieldError{Field: "security.rule_budget", Message: "rule budget must not be negative"})
	}
	if cfg.MaxMatchesPerRule < 0 {
		errs = append(errs, FieldError{Field: "security.max_matches_per_rule", Message: "max matches per rule must not be negative"})
	}
	if cfg.MaxTextLength < 0 {
		errs = append(errs, FieldError{Field: "security.max_text_length", Message: "max text length must not be negative"})
	}
	if !validMaskMethods[cfg.DefaultMaskMethod] {
		errs = append(errs, FieldError{
			Field:   "security.default_mask_method",
			Message: fmt.Sprintf("invalid mask method %q: must be 'partial', 'full', 'structural', or 'hash'", cfg.DefaultMaskMethod),
		})
	}

	for name, cat := range cfg.Categories {
		prefix := "security.categories." + name
		if cat.Severity != "" && !validSeverities[cat.Severity] {
			errs = append(errs, FieldError{
				Field:   prefix + ".severity",
				Message: fmt.Sprintf("invalid severity %q: must be 'low', 'medium', or 'high'", cat.Severity),
			})
		}
		if cat.MaskMethod != "" && !validMaskMethods[cat.MaskMethod] {
			errs = append(errs, FieldError{
				Field:   prefix + ".mask_method",
				Message: fmt.Sprintf("invalid mask method %q", cat.MaskMethod),
			})
		}
		for i, kw := range cat.Keywords {
			if strings.TrimSpace(kw) == "" {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.keywords[%d]", prefix, i),
					Message: "keyword must not be empty",
				})
			}
		}
	}

	for name, p := range cfg.Patterns {
		prefix := "security.patterns." + name
		if p.Regex == "" {
			errs = append(errs, FieldError{Field: prefix + ".regex", Message: "regex is required"})
		}
		if p.Category == "" {
			errs = append(errs, FieldError{Field: prefix + ".category", Message: "category is required"})
		}
		if p.Severity != "" && !validSeverities[p.Severity] {
			errs = append(errs, FieldError{
				Field:   prefix + ".severity",
				Message: fmt.Sprintf("invalid severity %q: must be 'low', 'medium', or 'high'", p.Severity),
			})
		}
		if p.MaskMethod != "" && !validMaskMethods[p.MaskMethod] {
			errs = append(errs, FieldError{
				Field:   prefix + ".mask_method",
				Message: fmt.Sprintf("invalid mask method %q", p.MaskMethod),
			})
		}
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	if cfg.Driver != "sqlite" && cfg.Driver != "sqlite3" {
		errs = append(errs, FieldError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.Driver),
		})
	}
	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "storage.path", Message: "database path is required"})
	}
	if cfg.MaxOpenConns < 1 {
		errs = append(errs, FieldError{Field: "storage.max_open_conns", Message: "must be at least 1"})
	}
	if cfg.MaxIdleConns < 0 || cfg.MaxIdleConns > cfg.MaxOpenConns {
		errs = append(errs, FieldError{Field: "storage.max_idle_conns", Message: "must be between 0 and max_open_conns"})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "storage.busy_timeout", Message: "must not be negative"})
	}
	if cfg.WriteRetries < 0 {
		errs = append(errs, FieldError{Field: "storage.write_retries", Message: "must not be negative"})
	}

	return errs
}

func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.Days < 0 {
		errs = append(errs, FieldError{Field: "retention.days", Message: "retention days must not be negative"})
	}
	if cfg.BatchSize < 1 {
		errs = append(errs, FieldError{Field: "retention.batch_size", Message: "batch size must be at least 1"})
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "retention.schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
		})
	}
	if cfg.ArchiveBeforeDelete && cfg.ArchivePath == "" {
		errs = append(errs, FieldError{Field: "retention.archive_path", Message: "archive path is required when archiving is enabled"})
	}

	return errs
}

func validateDelivery(cfg *DeliveryConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled {
		if cfg.Endpoint == "" {
			errs = append(errs, FieldError{Field: "delivery.endpoint", Message: "endpoint is required when delivery is enabled"})
		} else if u, err := url.Parse(cfg.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "delivery.endpoint",
				Message: fmt.Sprintf("invalid endpoint %q: must be an http or https URL", cfg.Endpoint),
			})
		}
	}
	if cfg.OverflowPolicy != "drop_oldest" && cfg.OverflowPolicy != "block" {
		errs = append(errs, FieldError{
			Field:   "delivery.overflow_policy",
			Message: fmt.Sprintf("invalid overflow policy %q: must be 'drop_oldest' or 'block'", cfg.OverflowPolicy),
		})
	}
	if cfg.QueueSize < 1 {
		errs = append(errs, FieldError{Field: "delivery.queue_size", Message: "queue size must be at least 1"})
	}
	if cfg.Workers < 1 {
		errs = append(errs, FieldError{Field: "delivery.workers", Message: "workers must be at least 1"})
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "delivery.max_attempts", Message: "max attempts must be at least 1"})
	}
	if cfg.InitialBackoff <= 0 || cfg.MaxBackoff < cfg.InitialBackoff {
		errs = append(errs, FieldError{Field: "delivery.max_backoff", Message: "max backoff must be at least initial backoff"})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "delivery.timeout", Message: "timeout must be positive"})
	}

	return errs
}

func validateIngest(cfg *IngestConfig) []FieldError {
	var errs []FieldError

	if _, err := filepath.Match(cfg.Pattern, "events.jsonl"); err != nil || cfg.Pattern == "" || strings.ContainsRune(cfg.Pattern, '/') {
		errs = append(errs, FieldError{
			Field:   "ingest.pattern",
			Message: fmt.Sprintf("invalid file pattern %q: must be a file name glob", cfg.Pattern),
		})
	}
	if cfg.MaxLineBytes < 1024 {
		errs = append(errs, FieldError{Field: "ingest.max_line_bytes", Message: "must be at least 1024"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.ListenAddress == "" {
			errs = append(errs, FieldError{Field: "telemetry.metrics.listen_address", Message: "listen address is required when metrics are enabled"})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with '/'"})
		}
	}
	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.liveness_path", Message: "path must start with '/'"})
	}
	if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.readiness_path", Message: "path must start with '/'"})
	}

	return errs
}
