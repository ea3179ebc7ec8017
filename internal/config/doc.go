// Package config provides configuration management for contexture.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. It provides a type-safe configuration structure with
// validation, default values, and automatic file creation.
//
// # Configuration File
//
// The configuration is stored at ~/.contexture/config.yaml and is
// automatically created with sensible defaults on first use. The file
// structure mirrors the Go structs defined in this package.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the CONTEXTURE_ prefix. Nested fields are separated by underscores.
//
// Examples:
//   - CONTEXTURE_STORE=sqlite
//   - CONTEXTURE_LOG_LEVEL=debug
//   - CONTEXTURE_RETENTION_HISTORY_CAPACITY=500
//   - CONTEXTURE_SERVER_LISTEN=0.0.0.0:8136
//
// # Configuration Sections
//
//   - Extraction: entity and topic extraction limits
//   - Detection: context switch thresholds
//   - Retention: history capacity and importance cutoffs
//   - Server: event stream listen address and buffer sizes
//
// # Path Expansion
//
// The package automatically expands ~ to the user's home directory in
// data_dir, making config files portable across systems.
//
// # Thread Safety
//
// Config instances are not thread-safe. Load once at startup and treat the
// result as read-only.
package config
