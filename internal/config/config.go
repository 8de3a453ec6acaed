// Package config holds all configuration types and loading logic for LiteMQ.
// Config structure never shrinks: fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sneh-joshi/litemq/internal/storage"
)

// Config is the root configuration for a LiteMQ server instance.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	HTTP    HTTPConfig    `yaml:"http"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// NodeConfig holds identity and network settings for this server node.
type NodeConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first start.
	ID       string `yaml:"id"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`      // gRPC
	HTTPPort int    `yaml:"http_port"` // admin/REST API
	DataDir  string `yaml:"data_dir"`
}

// Engine names a storage backend.
type Engine string

const (
	EngineJournal Engine = "journal" // append-only journal, the default
	EngineBolt    Engine = "bolt"
	EnginePebble  Engine = "pebble"
	EngineSQLite  Engine = "sqlite"
	EngineMemory  Engine = "memory" // not durable; dev/test only
)

// StorageConfig controls how messages are persisted on disk.
type StorageConfig struct {
	Engine                Engine              `yaml:"engine"`
	Fsync                 storage.FsyncPolicy `yaml:"fsync"`
	FsyncIntervalMs       int                 `yaml:"fsync_interval_ms"`
	FsyncBatchSize        int                 `yaml:"fsync_batch_size"`
	CompactionInterval    string              `yaml:"compaction_interval"`
	CompactionThresholdMB int                 `yaml:"compaction_threshold_mb"`
}

// QueueConfig sets limits that apply to every queue.
type QueueConfig struct {
	MaxMessageSizeKB int `yaml:"max_message_size_kb"`
	MaxNameBytes     int `yaml:"max_name_bytes"`
}

// HTTPConfig controls the admin/REST listener.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	// RateLimitRPS is requests per second per client IP. 0 disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// AuthConfig controls API key authentication of the HTTP API.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:       "auto",
			Host:     "0.0.0.0",
			Port:     42090,
			HTTPPort: 42080,
			DataDir:  ".litemq",
		},
		Storage: StorageConfig{
			Engine:                EngineJournal,
			Fsync:                 storage.FsyncAlways,
			FsyncIntervalMs:       200,
			FsyncBatchSize:        64,
			CompactionInterval:    "1m",
			CompactionThresholdMB: 64,
		},
		Queue: QueueConfig{
			MaxMessageSizeKB: 4096,
			MaxNameBytes:     255,
		},
		HTTP: HTTPConfig{
			Enabled:        true,
			RateLimitRPS:   0,
			RateLimitBurst: 100,
		},
		Metrics: MetricsConfig{Enabled: true},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the named files (".env" if none)
// into the process environment. Variables that are already set win, and
// missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads a YAML config file at path and overlays it on top of Default().
// An empty path or a missing file yields the default config, making it easy
// to run LiteMQ with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	PORT               node.port
//	LOG_LEVEL          log.level
//	LITEMQ_HOST        node.host
//	LITEMQ_HTTP_PORT   node.http_port
//	LITEMQ_DATA_DIR    node.data_dir
//	LITEMQ_ENGINE      storage.engine
//	LITEMQ_FSYNC       storage.fsync
//	LITEMQ_LOG_FORMAT  log.format
//	LITEMQ_API_KEY     auth.api_key, and enables auth
//
// A malformed numeric variable is an error rather than silently ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT=%q: %w", v, err)
		}
		cfg.Node.Port = p
	}
	if v, ok := os.LookupEnv("LITEMQ_HTTP_PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: LITEMQ_HTTP_PORT=%q: %w", v, err)
		}
		cfg.Node.HTTPPort = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LITEMQ_HOST"); v != "" {
		cfg.Node.Host = v
	}
	if v := os.Getenv("LITEMQ_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LITEMQ_ENGINE"); v != "" {
		cfg.Storage.Engine = Engine(v)
	}
	if v := os.Getenv("LITEMQ_FSYNC"); v != "" {
		cfg.Storage.Fsync = storage.FsyncPolicy(v)
	}
	if v := os.Getenv("LITEMQ_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LITEMQ_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	return nil
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.Port < 1 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.HTTP.Enabled && (c.Node.HTTPPort < 1 || c.Node.HTTPPort > 65535) {
		return errors.New("node.http_port must be between 1 and 65535")
	}
	if c.HTTP.Enabled && c.Node.HTTPPort == c.Node.Port {
		return errors.New("node.http_port must differ from node.port")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	switch c.Storage.Engine {
	case EngineJournal, EngineBolt, EnginePebble, EngineSQLite, EngineMemory:
		// valid
	default:
		return fmt.Errorf(`storage.engine must be one of "journal", "bolt", "pebble", "sqlite", "memory"; got %q`, c.Storage.Engine)
	}
	if _, err := c.StorageOptions(); err != nil {
		return err
	}
	if c.Queue.MaxMessageSizeKB < 1 {
		return errors.New("queue.max_message_size_kb must be at least 1")
	}
	if c.Queue.MaxNameBytes < 1 || c.Queue.MaxNameBytes > 65535 {
		return errors.New("queue.max_name_bytes must be between 1 and 65535")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return errors.New("http.rate_limit_rps must be >= 0")
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst < 1 {
		return errors.New("http.rate_limit_burst must be at least 1 when rate limiting is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf(`log.format must be "text" or "json"; got %q`, c.Log.Format)
	}
	return nil
}

// StorageOptions converts the storage section to engine options.
func (c *Config) StorageOptions() (storage.Options, error) {
	opts := storage.Options{
		Fsync:               c.Storage.Fsync,
		FsyncInterval:       time.Duration(c.Storage.FsyncIntervalMs) * time.Millisecond,
		FsyncBatchSize:      c.Storage.FsyncBatchSize,
		CompactionThreshold: int64(c.Storage.CompactionThresholdMB) << 20,
	}
	if c.Storage.CompactionInterval != "" {
		d, err := time.ParseDuration(c.Storage.CompactionInterval)
		if err != nil {
			return storage.Options{}, fmt.Errorf("storage.compaction_interval: %w", err)
		}
		opts.CompactionInterval = d
	}
	if err := opts.Validate(); err != nil {
		return storage.Options{}, fmt.Errorf("storage: %w", err)
	}
	return opts, nil
}

// MaxMessageBytes is queue.max_message_size_kb in bytes.
func (c *Config) MaxMessageBytes() int { return c.Queue.MaxMessageSizeKB << 10 }

// GRPCAddr is the host:port the gRPC listener binds.
func (c *Config) GRPCAddr() string { return fmt.Sprintf("%s:%d", c.Node.Host, c.Node.Port) }

// HTTPAddr is the host:port the HTTP listener binds.
func (c *Config) HTTPAddr() string { return fmt.Sprintf("%s:%d", c.Node.Host, c.Node.HTTPPort) }
