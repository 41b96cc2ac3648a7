// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Input folders
	Folders FoldersConfig `yaml:"folders"`

	// Metrics to compute, by registry name
	Metrics []string `envconfig:"RICE_EVAL_METRICS" yaml:"metrics"`

	// Fields requested from the platform; empty requests every field
	Fields []string `envconfig:"RICE_EVAL_FIELDS" yaml:"fields"`

	// Evaluation scheduling
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Search platform under evaluation
	Platform PlatformConfig `yaml:"platform"`

	// Template cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Run telemetry
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// FoldersConfig locates the evaluation inputs.
type FoldersConfig struct {
	Configurations string `envconfig:"RICE_EVAL_CONFIGURATIONS_FOLDER" yaml:"configurations"`
	Corpora        string `envconfig:"RICE_EVAL_CORPORA_FOLDER" yaml:"corpora"`
	Ratings        string `envconfig:"RICE_EVAL_RATINGS_FOLDER" yaml:"ratings"`
	Templates      string `envconfig:"RICE_EVAL_TEMPLATES_FOLDER" yaml:"templates"`
}

// EvaluationConfig selects the evaluation manager.
type EvaluationConfig struct {
	Async           bool          `envconfig:"RICE_EVAL_ASYNC" yaml:"async"`
	Threads         int           `envconfig:"RICE_EVAL_THREADS" yaml:"threads"`
	ShutdownTimeout time.Duration `envconfig:"RICE_EVAL_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
	Output          string        `envconfig:"RICE_EVAL_OUTPUT" yaml:"output"` // "" = stdout
}

// PlatformConfig selects and throttles the search platform.
type PlatformConfig struct {
	Type              string  `envconfig:"RICE_EVAL_PLATFORM" yaml:"type"`
	RequestsPerSecond float64 `envconfig:"RICE_EVAL_PLATFORM_RPS" yaml:"requests_per_second"` // 0 = unlimited
	Burst             int     `envconfig:"RICE_EVAL_PLATFORM_BURST" yaml:"burst"`
}

// CacheConfig holds template cache settings.
type CacheConfig struct {
	Type     string `envconfig:"RICE_EVAL_CACHE_TYPE" yaml:"type"`
	TTL      int    `envconfig:"RICE_EVAL_CACHE_TTL" yaml:"ttl"` // seconds, 0 = no expiry
	RedisURL string `envconfig:"RICE_EVAL_REDIS_URL" yaml:"redis_url"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RICE_EVAL_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RICE_EVAL_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"RICE_EVAL_KAFKA_GROUP" yaml:"kafka_group"`
	EventLog     string `envconfig:"RICE_EVAL_EVENT_LOG" yaml:"event_log"` // "" = disabled
}

// TelemetryConfig holds run telemetry outputs.
type TelemetryConfig struct {
	TextfilePath string        `envconfig:"RICE_EVAL_METRICS_FILE" yaml:"textfile_path"`
	RedisURL     string        `envconfig:"RICE_EVAL_HISTORY_REDIS_URL" yaml:"history_redis_url"`
	HistoryTTL   time.Duration `envconfig:"RICE_EVAL_HISTORY_TTL" yaml:"history_ttl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RICE_EVAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RICE_EVAL_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from defaults, an optional YAML file and the
// environment, in increasing priority. Overrides run last, before validation.
func Load(configPath string, overrides ...func(*Config)) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Folders = FoldersConfig{
		Configurations: "src/etc/configuration_sets",
		Corpora:        "src/etc/corpora",
		Ratings:        "src/etc/ratings",
		Templates:      "src/etc/templates",
	}

	cfg.Metrics = []string{"P", "R", "F1", "NDCG@10", "AP"}

	cfg.Evaluation = EvaluationConfig{
		Async:           false,
		Threads:         4,
		ShutdownTimeout: 30 * time.Second,
	}

	cfg.Platform = PlatformConfig{
		Type:  "memory",
		Burst: 1,
	}

	cfg.Cache = CacheConfig{
		Type:     "memory",
		TTL:      0,
		RedisURL: "redis://localhost:6379",
	}

	cfg.Bus = BusConfig{
		Type:       "memory",
		KafkaGroup: "rice-eval",
	}

	cfg.Telemetry = TelemetryConfig{
		HistoryTTL: 90 * 24 * time.Hour,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Folder validation
	folders := map[string]string{
		"configurations": c.Folders.Configurations,
		"corpora":        c.Folders.Corpora,
		"ratings":        c.Folders.Ratings,
		"templates":      c.Folders.Templates,
	}
	for _, name := range []string{"configurations", "corpora", "ratings", "templates"} {
		if folders[name] == "" {
			errs = append(errs, fmt.Sprintf("%s folder is required", name))
		}
	}

	if len(c.Metrics) == 0 {
		errs = append(errs, "at least one metric is required")
	}

	// Evaluation validation
	if c.Evaluation.Threads < 1 {
		errs = append(errs, "threads must be positive")
	}
	if c.Evaluation.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	// Platform validation
	validPlatforms := map[string]bool{"memory": true, "qdrant": true, "ricesearch": true}
	if !validPlatforms[c.Platform.Type] {
		errs = append(errs, fmt.Sprintf("invalid platform: %s (must be memory, qdrant, or ricesearch)", c.Platform.Type))
	}
	if c.Platform.RequestsPerSecond < 0 {
		errs = append(errs, "requests_per_second must not be negative")
	}
	if c.Platform.RequestsPerSecond > 0 && c.Platform.Burst < 1 {
		errs = append(errs, "burst must be positive when throttling")
	}

	// Cache validation
	validCacheTypes := map[string]bool{"none": true, "memory": true, "redis": true}
	if !validCacheTypes[c.Cache.Type] {
		errs = append(errs, fmt.Sprintf("invalid cache type: %s (must be none, memory, or redis)", c.Cache.Type))
	}
	if c.Cache.Type == "redis" && c.Cache.RedisURL == "" {
		errs = append(errs, "redis_url is required for the redis cache")
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, "cache ttl must not be negative")
	}

	// Bus validation
	validBusTypes := map[string]bool{"none": true, "memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be none, memory, or kafka)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers is required for the kafka bus")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// CacheTTL returns the template cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Second
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
