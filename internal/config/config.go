package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/halcyonic/contexture/internal/awareness"
)

// Config holds all application configuration for contexture.
// It is loaded from ~/.contexture/config.yaml and can be overridden by
// environment variables with the CONTEXTURE_ prefix.
type Config struct {
	// SessionName labels the root context opened for each run.
	SessionName string `mapstructure:"session_name" yaml:"session_name"`
	// DataDir is where stores and logs live.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// Store selects the persistence backend: "badger", "sqlite", or "memory".
	Store string `mapstructure:"store" yaml:"store"`
	// LogLevel is the global log level ("debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Detection  DetectionConfig  `mapstructure:"detection" yaml:"detection"`
	Retention  RetentionConfig  `mapstructure:"retention" yaml:"retention"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// ExtractionConfig tunes entity and topic extraction.
type ExtractionConfig struct {
	// MaxTopics caps how many topics are pulled from one message.
	MaxTopics int `mapstructure:"max_topics" yaml:"max_topics"`
}

// DetectionConfig tunes context switch detection.
type DetectionConfig struct {
	// MinDriftLength is the message length, in characters, a message must
	// exceed before implicit topic drift is evaluated.
	MinDriftLength int `mapstructure:"min_drift_length" yaml:"min_drift_length"`
	// DriftOverlap is the topic overlap below which a long message counts
	// as having drifted away from the active context.
	DriftOverlap float64 `mapstructure:"drift_overlap" yaml:"drift_overlap"`
}

// RetentionConfig tunes the scored context history and the reference cache.
type RetentionConfig struct {
	// HistoryCapacity is the maximum number of contexts kept in history.
	HistoryCapacity int `mapstructure:"history_capacity" yaml:"history_capacity"`
	// LowImportance is the score below which a context is not worth keeping.
	LowImportance float64 `mapstructure:"low_importance" yaml:"low_importance"`
	// ReferenceCacheCapacity bounds the global recent-reference cache.
	ReferenceCacheCapacity int `mapstructure:"reference_cache_capacity" yaml:"reference_cache_capacity"`
}

// ServerConfig tunes the serve command.
type ServerConfig struct {
	// Listen is the host:port the HTTP server binds.
	Listen string `mapstructure:"listen" yaml:"listen"`
	// EventBuffer is the per-subscriber channel buffer on the event bus.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`
	// HistoryBuffer is how many recent events the bus retains for replay.
	HistoryBuffer int `mapstructure:"history_buffer" yaml:"history_buffer"`
}

// Default returns the configuration used when nothing is on disk.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		SessionName: "Current Session",
		DataDir:     filepath.Join(homeDir, ".contexture"),
		Store:       "badger",
		LogLevel:    "info",
		Extraction: ExtractionConfig{
			MaxTopics: 5,
		},
		Detection: DetectionConfig{
			MinDriftLength: 50,
			DriftOverlap:   0.3,
		},
		Retention: RetentionConfig{
			HistoryCapacity:        100,
			LowImportance:          0.3,
			ReferenceCacheCapacity: 50,
		},
		Server: ServerConfig{
			Listen:        "127.0.0.1:8136",
			EventBuffer:   64,
			HistoryBuffer: 256,
		},
	}
}

// Load reads configuration from the default location (~/.contexture/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".contexture", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Enable environment variable overrides.
	// Example: CONTEXTURE_RETENTION_HISTORY_CAPACITY
	v.SetEnvPrefix("CONTEXTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DataDir = expandPath(cfg.DataDir)

	return &cfg, nil
}

// StorePath returns the on-disk location for the configured backend: a
// directory for badger, a file for sqlite, empty for memory.
func (c *Config) StorePath() string {
	switch c.Store {
	case "badger":
		return filepath.Join(c.DataDir, "contexts.badger")
	case "sqlite":
		return filepath.Join(c.DataDir, "contexts.db")
	default:
		return ""
	}
}

// LogFile returns the path log output is written to when a command runs
// with its terminal occupied by a UI.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "logs", "contexture.log")
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.LogFile()),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// EngineConfig maps the file schema onto the engine's own config type.
func (c *Config) EngineConfig() awareness.Config {
	return awareness.Config{
		SessionName: c.SessionName,
		Extraction: awareness.ExtractionConfig{
			MaxTopics: c.Extraction.MaxTopics,
		},
		Detection: awareness.DetectionConfig{
			MinDriftLength: c.Detection.MinDriftLength,
			DriftOverlap:   c.Detection.DriftOverlap,
		},
		Retention: awareness.RetentionConfig{
			HistoryCapacity:        c.Retention.HistoryCapacity,
			LowImportance:          c.Retention.LowImportance,
			ReferenceCacheCapacity: c.Retention.ReferenceCacheCapacity,
		},
	}
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SessionName) == "" {
		return fmt.Errorf("session_name cannot be empty")
	}

	validStores := map[string]bool{"badger": true, "sqlite": true, "memory": true}
	if !validStores[c.Store] {
		return fmt.Errorf("invalid store '%s', must be one of: badger, sqlite, memory", c.Store)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.Extraction.MaxTopics < 1 {
		return fmt.Errorf("extraction.max_topics must be at least 1")
	}

	if c.Detection.MinDriftLength < 0 {
		return fmt.Errorf("detection.min_drift_length cannot be negative")
	}
	if c.Detection.DriftOverlap < 0 || c.Detection.DriftOverlap > 1 {
		return fmt.Errorf("detection.drift_overlap must be between 0 and 1")
	}

	if c.Retention.HistoryCapacity < 1 {
		return fmt.Errorf("retention.history_capacity must be at least 1")
	}
	if c.Retention.LowImportance < 0 || c.Retention.LowImportance > 1 {
		return fmt.Errorf("retention.low_importance must be between 0 and 1")
	}
	if c.Retention.ReferenceCacheCapacity < 1 {
		return fmt.Errorf("retention.reference_cache_capacity must be at least 1")
	}

	if strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("server.listen cannot be empty")
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
