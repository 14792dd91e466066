// Package config provides configuration management for cylestio-monitor.
//
// This package handles loading, validating, and defaulting configuration from
// YAML files with environment variable overrides. There is no package-level
// configuration state: callers load a *Config once and pass the sections they
// need to each component.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("cylestio.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("cylestio.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention CYLESTIO_SECTION_FIELD:
//
//   - CYLESTIO_STORAGE_PATH overrides storage.path
//   - CYLESTIO_RETENTION_DAYS overrides retention.days
//   - CYLESTIO_SECURITY_BLOCKING_CATEGORIES overrides security.blocking_categories
//     (comma-separated)
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation
//
// # Example Configuration
//
//	agent:
//	  id: "support-bot"
//
//	security:
//	  categories:
//	    sensitive_data:
//	      keywords: ["password", "api_key"]
//	  patterns:
//	    employee_id:
//	      regex: '\bEMP-\d{6}\b'
//	      category: sensitive_data
//	      severity: medium
//	      mask_method: full
//	      mask_tag: "[EMPLOYEE_ID]"
//
//	storage:
//	  path: "/var/lib/cylestio/monitor.db"
//
//	retention:
//	  days: 30
//	  schedule: "0 3 * * *"
package config
