package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CYLESTIO_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The document is decoded on top of NewDefaultConfig, remaining zero values
// are defaulted, and the result is validated. Environment variables are not
// consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes a YAML document into a defaulted Config without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention CYLESTIO_SECTION_FIELD (e.g., CYLESTIO_STORAGE_PATH) and always
// take precedence over the file. An empty path skips the file and starts
// from defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefaultConfig()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Agent overrides
	envString("AGENT_ID", &cfg.Agent.ID)
	envString("AGENT_NAME", &cfg.Agent.Name)

	// Security overrides
	envBool("SECURITY_INCLUDE_DEFAULTS", &cfg.Security.IncludeDefaults)
	envDuration("SECURITY_RULE_BUDGET", &cfg.Security.RuleBudget)
	envInt("SECURITY_MAX_MATCHES_PER_RULE", &cfg.Security.MaxMatchesPerRule)
	envList("SECURITY_BLOCKING_CATEGORIES", &cfg.Security.BlockingCategories)
	envList("SECURITY_ALERT_ON_SUSPICIOUS", &cfg.Security.AlertOnSuspicious)
	envString("SECURITY_DEFAULT_MASK_METHOD", &cfg.Security.DefaultMaskMethod)
	envInt("SECURITY_MAX_TEXT_LENGTH", &cfg.Security.MaxTextLength)

	// Storage overrides
	envString("STORAGE_DRIVER", &cfg.Storage.Driver)
	envString("STORAGE_PATH", &cfg.Storage.Path)
	envInt("STORAGE_MAX_OPEN_CONNS", &cfg.Storage.MaxOpenConns)
	envInt("STORAGE_MAX_IDLE_CONNS", &cfg.Storage.MaxIdleConns)
	envBool("STORAGE_WAL_MODE", &cfg.Storage.WALMode)
	envDuration("STORAGE_BUSY_TIMEOUT", &cfg.Storage.BusyTimeout)
	envInt("STORAGE_WRITE_RETRIES", &cfg.Storage.WriteRetries)
	envBool("STORAGE_FULL_TEXT_SEARCH", &cfg.Storage.FullTextSearch)

	// Retention overrides
	envInt("RETENTION_DAYS", &cfg.Retention.Days)
	envString("RETENTION_SCHEDULE", &cfg.Retention.Schedule)
	envInt("RETENTION_BATCH_SIZE", &cfg.Retention.BatchSize)
	envBool("RETENTION_ARCHIVE_BEFORE_DELETE", &cfg.Retention.ArchiveBeforeDelete)
	envString("RETENTION_ARCHIVE_PATH", &cfg.Retention.ArchivePath)

	// Delivery overrides
	envBool("DELIVERY_ENABLED", &cfg.Delivery.Enabled)
	envString("DELIVERY_ENDPOINT", &cfg.Delivery.Endpoint)
	envDuration("DELIVERY_TIMEOUT", &cfg.Delivery.Timeout)
	envInt("DELIVERY_QUEUE_SIZE", &cfg.Delivery.QueueSize)
	envString("DELIVERY_OVERFLOW_POLICY", &cfg.Delivery.OverflowPolicy)
	envInt("DELIVERY_WORKERS", &cfg.Delivery.Workers)
	envInt("DELIVERY_MAX_ATTEMPTS", &cfg.Delivery.MaxAttempts)
	envDuration("DELIVERY_INITIAL_BACKOFF", &cfg.Delivery.InitialBackoff)
	envDuration("DELIVERY_MAX_BACKOFF", &cfg.Delivery.MaxBackoff)
	envString("DELIVERY_DEAD_LETTER_PATH", &cfg.Delivery.DeadLetterPath)

	// Ingest overrides
	envString("INGEST_SPOOL_DIR", &cfg.Ingest.SpoolDir)
	envString("INGEST_PATTERN", &cfg.Ingest.Pattern)
	envBool("INGEST_VALIDATE_SCHEMA", &cfg.Ingest.ValidateSchema)
	envInt("INGEST_MAX_LINE_BYTES", &cfg.Ingest.MaxLineBytes)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_LOGGING_ADD_SOURCE", &cfg.Telemetry.Logging.AddSource)
	envBool("TELEMETRY_LOGGING_REDACT", &cfg.Telemetry.Logging.Redact)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envString("TELEMETRY_METRICS_NAMESPACE", &cfg.Telemetry.Metrics.Namespace)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// envList reads a comma-separated list.
func envList(name string, dst *[]string) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
