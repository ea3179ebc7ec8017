package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.SessionName != "Current Session" {
		t.Errorf("expected session name 'Current Session', got '%s'", cfg.SessionName)
	}

	if cfg.Store != "badger" {
		t.Errorf("expected default store 'badger', got '%s'", cfg.Store)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got '%s'", cfg.LogLevel)
	}

	if !strings.HasSuffix(cfg.DataDir, ".contexture") {
		t.Errorf("expected data dir under ~/.contexture, got '%s'", cfg.DataDir)
	}

	if cfg.Extraction.MaxTopics != 5 {
		t.Errorf("expected max_topics 5, got %d", cfg.Extraction.MaxTopics)
	}

	if cfg.Detection.MinDriftLength != 50 {
		t.Errorf("expected min_drift_length 50, got %d", cfg.Detection.MinDriftLength)
	}
	if cfg.Detection.DriftOverlap != 0.3 {
		t.Errorf("expected drift_overlap 0.3, got %v", cfg.Detection.DriftOverlap)
	}

	if cfg.Retention.HistoryCapacity != 100 {
		t.Errorf("expected history_capacity 100, got %d", cfg.Retention.HistoryCapacity)
	}
	if cfg.Retention.LowImportance != 0.3 {
		t.Errorf("expected low_importance 0.3, got %v", cfg.Retention.LowImportance)
	}
	if cfg.Retention.ReferenceCacheCapacity != 50 {
		t.Errorf("expected reference_cache_capacity 50, got %d", cfg.Retention.ReferenceCacheCapacity)
	}

	if cfg.Server.Listen != "127.0.0.1:8136" {
		t.Errorf("expected listen '127.0.0.1:8136', got '%s'", cfg.Server.Listen)
	}
	if cfg.Server.EventBuffer != 64 || cfg.Server.HistoryBuffer != 256 {
		t.Errorf("expected buffers 64/256, got %d/%d", cfg.Server.EventBuffer, cfg.Server.HistoryBuffer)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".contexture", "config.yaml")

	// Load config (should create default)
	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	if cfg.Store != "badger" {
		t.Errorf("expected default store 'badger', got '%s'", cfg.Store)
	}

	// Load again to test reading the existing file
	cfg2, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load existing config: %v", err)
	}

	if cfg2.Store != cfg.Store || cfg2.Retention.HistoryCapacity != cfg.Retention.HistoryCapacity {
		t.Error("config values changed on reload")
	}
}

func TestLoadFromPath_ReadsOverrides(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	content := `session_name: "design review"
data_dir: "` + tempDir + `"
store: "memory"
log_level: "debug"
extraction:
  max_topics: 3
detection:
  min_drift_length: 80
  drift_overlap: 0.5
retention:
  history_capacity: 25
  low_importance: 0.4
  reference_cache_capacity: 10
server:
  listen: "127.0.0.1:9000"
  event_buffer: 16
  history_buffer: 32
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.SessionName != "design review" {
		t.Errorf("expected session name 'design review', got '%s'", cfg.SessionName)
	}
	if cfg.Store != "memory" {
		t.Errorf("expected store 'memory', got '%s'", cfg.Store)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", cfg.LogLevel)
	}
	if cfg.Extraction.MaxTopics != 3 {
		t.Errorf("expected max_topics 3, got %d", cfg.Extraction.MaxTopics)
	}
	if cfg.Detection.MinDriftLength != 80 || cfg.Detection.DriftOverlap != 0.5 {
		t.Errorf("detection overrides not applied: %+v", cfg.Detection)
	}
	if cfg.Retention.HistoryCapacity != 25 || cfg.Retention.LowImportance != 0.4 {
		t.Errorf("retention overrides not applied: %+v", cfg.Retention)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" || cfg.Server.EventBuffer != 16 {
		t.Errorf("server overrides not applied: %+v", cfg.Server)
	}
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	t.Setenv("CONTEXTURE_STORE", "sqlite")
	t.Setenv("CONTEXTURE_RETENTION_HISTORY_CAPACITY", "500")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Store != "sqlite" {
		t.Errorf("expected env override store 'sqlite', got '%s'", cfg.Store)
	}
	if cfg.Retention.HistoryCapacity != 500 {
		t.Errorf("expected env override history_capacity 500, got %d", cfg.Retention.HistoryCapacity)
	}
}

func TestLoadFromPath_ExpandsDataDir(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	content := "data_dir: \"~/custom-contexture\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if strings.HasPrefix(cfg.DataDir, "~") {
		t.Errorf("data_dir was not expanded: '%s'", cfg.DataDir)
	}
	homeDir, _ := os.UserHomeDir()
	if cfg.DataDir != filepath.Join(homeDir, "custom-contexture") {
		t.Errorf("unexpected expansion: '%s'", cfg.DataDir)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default is valid", func(c *Config) {}, false},
		{"empty session name", func(c *Config) { c.SessionName = "  " }, true},
		{"unknown store", func(c *Config) { c.Store = "redis" }, true},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"zero max topics", func(c *Config) { c.Extraction.MaxTopics = 0 }, true},
		{"negative drift length", func(c *Config) { c.Detection.MinDriftLength = -1 }, true},
		{"overlap above one", func(c *Config) { c.Detection.DriftOverlap = 1.5 }, true},
		{"zero history capacity", func(c *Config) { c.Retention.HistoryCapacity = 0 }, true},
		{"low importance above one", func(c *Config) { c.Retention.LowImportance = 2 }, true},
		{"zero cache capacity", func(c *Config) { c.Retention.ReferenceCacheCapacity = 0 }, true},
		{"empty listen address", func(c *Config) { c.Server.Listen = "" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
		})
	}
}

func TestStorePath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"

	cfg.Store = "badger"
	if got := cfg.StorePath(); got != filepath.Join("/data", "contexts.badger") {
		t.Errorf("unexpected badger path: '%s'", got)
	}

	cfg.Store = "sqlite"
	if got := cfg.StorePath(); got != filepath.Join("/data", "contexts.db") {
		t.Errorf("unexpected sqlite path: '%s'", got)
	}

	cfg.Store = "memory"
	if got := cfg.StorePath(); got != "" {
		t.Errorf("expected empty path for memory store, got '%s'", got)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.SessionName = "standup"
	cfg.Extraction.MaxTopics = 7
	cfg.Detection.MinDriftLength = 20
	cfg.Retention.HistoryCapacity = 42

	ec := cfg.EngineConfig()
	if ec.SessionName != "standup" {
		t.Errorf("session name not mapped: '%s'", ec.SessionName)
	}
	if ec.Extraction.MaxTopics != 7 {
		t.Errorf("max topics not mapped: %d", ec.Extraction.MaxTopics)
	}
	if ec.Detection.MinDriftLength != 20 {
		t.Errorf("drift length not mapped: %d", ec.Detection.MinDriftLength)
	}
	if ec.Retention.HistoryCapacity != 42 {
		t.Errorf("history capacity not mapped: %d", ec.Retention.HistoryCapacity)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.DataDir, filepath.Dir(cfg.LogFile())} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory %s not created: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	if got := expandPath("~/data"); got != filepath.Join(homeDir, "data") {
		t.Errorf("tilde not expanded: '%s'", got)
	}
	if got := expandPath("/absolute/path"); got != "/absolute/path" {
		t.Errorf("absolute path should be untouched: '%s'", got)
	}
	if got := expandPath("relative/path"); got != "relative/path" {
		t.Errorf("relative path should be untouched: '%s'", got)
	}
}
