package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Policy  PolicyConfig  `yaml:"policy"`
	Exec    ExecConfig    `yaml:"exec"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

type PolicyConfig struct {
	// Path is where the rule document lives on disk.
	Path string `yaml:"path"`

	// Watch reloads the document when the file changes on disk.
	Watch         bool   `yaml:"watch"`
	WatchDebounce string `yaml:"watch_debounce"`
}

type ExecConfig struct {
	// MaxOutputBytes caps each captured stream per command.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout string `yaml:"default_timeout"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"` // jsonl log path

	Rotation RotationConfig     `yaml:"rotation"`
	Storage  AuditStorageConfig `yaml:"storage"`
	Webhook  AuditWebhookConfig `yaml:"webhook"`
}

type AuditStorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type AuditWebhookConfig struct {
	URL           string            `yaml:"url"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval string            `yaml:"flush_interval"`
	Timeout       string            `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`
}

type RotationConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := decodeStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

// decodeStrict rejects unknown keys so a typoed option fails loudly
// instead of silently falling back to a default.
func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.ReadTimeout == "" {
		cfg.Server.ReadTimeout = "30s"
	}
	if cfg.Server.WriteTimeout == "" {
		cfg.Server.WriteTimeout = "5m"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = defaultDataPath("policy.json")
	}
	if cfg.Policy.WatchDebounce == "" {
		cfg.Policy.WatchDebounce = "200ms"
	}
	if cfg.Exec.MaxOutputBytes <= 0 {
		cfg.Exec.MaxOutputBytes = 1 << 20
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = defaultDataPath("audit.log")
	}
	if cfg.Audit.Rotation.MaxSizeMB <= 0 {
		cfg.Audit.Rotation.MaxSizeMB = 100
	}
	if cfg.Audit.Rotation.MaxBackups <= 0 {
		cfg.Audit.Rotation.MaxBackups = 3
	}
	if cfg.Audit.Storage.SQLitePath == "" {
		cfg.Audit.Storage.SQLitePath = defaultDataPath("events.db")
	}
	if cfg.Audit.Webhook.BatchSize <= 0 {
		cfg.Audit.Webhook.BatchSize = 100
	}
	if cfg.Audit.Webhook.FlushInterval == "" {
		cfg.Audit.Webhook.FlushInterval = "10s"
	}
	if cfg.Audit.Webhook.Timeout == "" {
		cfg.Audit.Webhook.Timeout = "5s"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CMDGATE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CMDGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CMDGATE_POLICY_PATH"); v != "" {
		cfg.Policy.Path = v
	}
	if v := os.Getenv("CMDGATE_DATA_DIR"); v != "" {
		cfg.Audit.Output = filepath.Join(v, "audit.log")
		cfg.Audit.Storage.SQLitePath = filepath.Join(v, "events.db")
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	if cfg.Audit.Webhook.BatchSize < 0 {
		return fmt.Errorf("audit.webhook.batch_size must be >= 0")
	}
	if cfg.Exec.DefaultTimeout != "" {
		if _, err := time.ParseDuration(cfg.Exec.DefaultTimeout); err != nil {
			return fmt.Errorf("invalid exec.default_timeout %q: %w", cfg.Exec.DefaultTimeout, err)
		}
	}
	return nil
}

func defaultDataPath(name string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "cmdgate", name)
}
