package config

import "time"

// Default configuration values.
const (
	DefaultAgentID = "default-agent"

	DefaultRuleBudget        = 50 * time.Millisecond
	DefaultMaxMatchesPerRule = 1000
	DefaultMaskMethod        = "full"

	DefaultStorageDriver       = "sqlite"
	DefaultStoragePath         = "cylestio_monitor.db"
	DefaultStorageMaxOpenConns = 10
	DefaultStorageMaxIdleConns = 5
	DefaultStorageBusyTimeout  = 5 * time.Second
	DefaultStorageWriteRetries = 3

	DefaultRetentionDays        = 30
	DefaultRetentionSchedule    = "0 3 * * *"
	DefaultRetentionBatchSize   = 500
	DefaultRetentionArchivePath = "./archive"

	DefaultDeliveryTimeout        = 5 * time.Second
	DefaultDeliveryQueueSize      = 1000
	DefaultDeliveryOverflowPolicy = "drop_oldest"
	DefaultDeliveryWorkers        = 2
	DefaultDeliveryMaxAttempts    = 5
	DefaultDeliveryInitialBackoff = 200 * time.Millisecond
	DefaultDeliveryMaxBackoff     = 10 * time.Second

	DefaultIngestPattern      = "*.jsonl"
	DefaultIngestMaxLineBytes = 1 << 20

	DefaultLoggingLevel         = "info"
	DefaultLoggingFormat        = "json"
	DefaultMetricsListenAddress = "127.0.0.1:9464"
	DefaultMetricsPath          = "/metrics"
	DefaultMetricsNamespace     = "cylestio"
	DefaultLivenessPath         = "/health"
	DefaultReadinessPath        = "/ready"
)

// DefaultBlockingCategories is used when security.blocking_categories is unset.
var DefaultBlockingCategories = []string{"dangerous_commands"}

// NewDefaultConfig returns a configuration with every default applied,
// including the boolean options that default to true. LoadConfig decodes
// the YAML document on top of it, so keys absent from the file keep these
// values.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Security: SecurityConfig{IncludeDefaults: true},
		Storage: StorageConfig{
			WALMode:        true,
			FullTextSearch: true,
		},
		Ingest: IngestConfig{ValidateSchema: true},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{Redact: true},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults. Boolean
// options are left alone since false is a meaningful explicit value.
func ApplyDefaults(cfg *Config) {
	if cfg.Agent.ID == "" {
		cfg.Agent.ID = DefaultAgentID
	}

	// Security defaults
	if cfg.Security.RuleBudget == 0 {
		cfg.Security.RuleBudget = DefaultRuleBudget
	}
	if cfg.Security.MaxMatchesPerRule == 0 {
		cfg.Security.MaxMatchesPerRule = DefaultMaxMatchesPerRule
	}
	if cfg.Security.DefaultMaskMethod == "" {
		cfg.Security.DefaultMaskMethod = DefaultMaskMethod
	}
	if cfg.Security.BlockingCategories == nil {
		cfg.Security.BlockingCategories = append([]string(nil), DefaultBlockingCategories...)
	}

	// Storage defaults
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = DefaultStorageMaxOpenConns
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = DefaultStorageMaxIdleConns
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultStorageBusyTimeout
	}
	if cfg.Storage.WriteRetries == 0 {
		cfg.Storage.WriteRetries = DefaultStorageWriteRetries
	}

	// Retention defaults
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = DefaultRetentionDays
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}
	if cfg.Retention.BatchSize == 0 {
		cfg.Retention.BatchSize = DefaultRetentionBatchSize
	}
	if cfg.Retention.ArchivePath == "" {
		cfg.Retention.ArchivePath = DefaultRetentionArchivePath
	}

	// Delivery defaults
	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = DefaultDeliveryTimeout
	}
	if cfg.Delivery.QueueSize == 0 {
		cfg.Delivery.QueueSize = DefaultDeliveryQueueSize
	}
	if cfg.Delivery.OverflowPolicy == "" {
		cfg.Delivery.OverflowPolicy = DefaultDeliveryOverflowPolicy
	}
	if cfg.Delivery.Workers == 0 {
		cfg.Delivery.Workers = DefaultDeliveryWorkers
	}
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = DefaultDeliveryMaxAttempts
	}
	if cfg.Delivery.InitialBackoff == 0 {
		cfg.Delivery.InitialBackoff = DefaultDeliveryInitialBackoff
	}
	if cfg.Delivery.MaxBackoff == 0 {
		cfg.Delivery.MaxBackoff = DefaultDeliveryMaxBackoff
	}

	// Ingest defaults
	if cfg.Ingest.Pattern == "" {
		cfg.Ingest.Pattern = DefaultIngestPattern
	}
	if cfg.Ingest.MaxLineBytes == 0 {
		cfg.Ingest.MaxLineBytes = DefaultIngestMaxLineBytes
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultReadinessPath
	}
}
