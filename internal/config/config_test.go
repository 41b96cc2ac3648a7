package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RICE_EVAL_THREADS", "8")
	t.Setenv("RICE_EVAL_LOG_LEVEL", "debug")
	t.Setenv("RICE_EVAL_METRICS", "P,R")
	t.Setenv("RICE_EVAL_SHUTDOWN_TIMEOUT", "5s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Evaluation.Threads != 8 {
		t.Errorf("Threads = %d, want 8", cfg.Evaluation.Threads)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}

	if len(cfg.Metrics) != 2 || cfg.Metrics[0] != "P" || cfg.Metrics[1] != "R" {
		t.Errorf("Metrics = %v, want [P R]", cfg.Metrics)
	}

	if cfg.Evaluation.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.Evaluation.ShutdownTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
folders:
  configurations: /data/configurations
  ratings: /data/ratings
metrics: [P, NDCG@10]
fields: [id, title]
evaluation:
  async: true
  threads: 6
  shutdown_timeout: 1m
platform:
  type: qdrant
  requests_per_second: 20
  burst: 5
log:
  level: warn
  format: json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Folders.Configurations != "/data/configurations" {
		t.Errorf("Folders.Configurations = %s", cfg.Folders.Configurations)
	}

	// Unset folders keep their defaults.
	if cfg.Folders.Corpora != "src/etc/corpora" {
		t.Errorf("Folders.Corpora = %s, want default", cfg.Folders.Corpora)
	}

	if !cfg.Evaluation.Async || cfg.Evaluation.Threads != 6 {
		t.Errorf("Evaluation = %+v", cfg.Evaluation)
	}

	if cfg.Evaluation.ShutdownTimeout != time.Minute {
		t.Errorf("ShutdownTimeout = %v, want 1m", cfg.Evaluation.ShutdownTimeout)
	}

	if cfg.Platform.Type != "qdrant" || cfg.Platform.RequestsPerSecond != 20 {
		t.Errorf("Platform = %+v", cfg.Platform)
	}

	if len(cfg.Fields) != 2 {
		t.Errorf("Fields = %v", cfg.Fields)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("platform:\n  type: qdrant\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RICE_EVAL_PLATFORM", "ricesearch")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Platform.Type != "ricesearch" {
		t.Errorf("Platform.Type = %s, want ricesearch", cfg.Platform.Type)
	}
}

func TestLoad_OverridesRunBeforeValidation(t *testing.T) {
	_, err := Load("", func(c *Config) { c.Evaluation.Threads = 0 })
	if err == nil {
		t.Fatal("Load() should reject an override that breaks validation")
	}

	cfg, err := Load("", func(c *Config) { c.Folders.Ratings = "/tmp/ratings" })
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Folders.Ratings != "/tmp/ratings" {
		t.Errorf("override not applied: %s", cfg.Folders.Ratings)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing ratings folder",
			modify:  func(c *Config) { c.Folders.Ratings = "" },
			wantErr: true,
		},
		{
			name:    "no metrics",
			modify:  func(c *Config) { c.Metrics = nil },
			wantErr: true,
		},
		{
			name:    "zero threads",
			modify:  func(c *Config) { c.Evaluation.Threads = 0 },
			wantErr: true,
		},
		{
			name:    "zero shutdown timeout",
			modify:  func(c *Config) { c.Evaluation.ShutdownTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "invalid platform",
			modify:  func(c *Config) { c.Platform.Type = "solr" },
			wantErr: true,
		},
		{
			name: "throttling without burst",
			modify: func(c *Config) {
				c.Platform.RequestsPerSecond = 10
				c.Platform.Burst = 0
			},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid cache type",
			modify:  func(c *Config) { c.Cache.Type = "invalid" },
			wantErr: true,
		},
		{
			name: "redis cache without url",
			modify: func(c *Config) {
				c.Cache.Type = "redis"
				c.Cache.RedisURL = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid bus type",
			modify:  func(c *Config) { c.Bus.Type = "invalid" },
			wantErr: true,
		},
		{
			name:    "kafka without brokers",
			modify:  func(c *Config) { c.Bus.Type = "kafka" },
			wantErr: true,
		},
		{
			name:    "bus disabled",
			modify:  func(c *Config) { c.Bus.Type = "none" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCacheTTL(t *testing.T) {
	cfg := &Config{}
	cfg.Cache.TTL = 90
	if got := cfg.CacheTTL(); got != 90*time.Second {
		t.Errorf("CacheTTL() = %v, want 90s", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{}

	cfg.Log.Level = "debug"
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true for debug level")
	}

	cfg.Log.Level = "info"
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false for info level")
	}
}
