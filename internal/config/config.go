// Package config handles TOML configuration for the vigil daemon.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/vigil/types"
)

// Config is the root configuration structure.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	WAL      WALConfig      `toml:"wal"`
	LLM      LLMConfig      `toml:"llm"`
	Catalog  CatalogConfig  `toml:"catalog"`
	OTEL     OTELConfig     `toml:"otel"`
	Daemon   DaemonConfig   `toml:"daemon"`
	Filter   FilterConfig   `toml:"filter"`
	Sources  SourcesConfig  `toml:"sources"`
	Emitters EmittersConfig `toml:"emitters"`
	Redis    RedisConfig    `toml:"redis"`
	Log      LogConfig      `toml:"log"`
}

// StorageConfig locates the bbolt database.
type StorageConfig struct {
	Path string `toml:"path"`
}

// WALConfig holds audit trail settings.
type WALConfig struct {
	Dir           string `toml:"dir"`
	RetentionDays int    `toml:"retention_days"`
}

// LLMConfig holds language model settings. The API key is read from the
// environment variable named by APIKeyEnv.
type LLMConfig struct {
	Endpoint   string `toml:"endpoint"`
	Model      string `toml:"model"`
	APIKeyEnv  string `toml:"api_key_env"`
	TimeoutStr string `toml:"timeout"`
	Timeout    time.Duration
	Strict     bool `toml:"strict"`
	MaxTokens  int  `toml:"max_tokens"`
}

// APIKey returns the key from the environment, empty when unset.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Enabled reports whether a model endpoint is configured.
func (c LLMConfig) Enabled() bool {
	return c.Endpoint != ""
}

// CatalogConfig points at a knowledge catalog. Empty uses the built-in one.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string       `toml:"endpoint"`
	Insecure    bool         `toml:"insecure"`
	ServiceName string       `toml:"service_name"`
	Environment string       `toml:"environment"`
	Traces      TracesConfig `toml:"traces"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	SampleRate float64 `toml:"sample_rate"`
}

// DaemonConfig holds worker and HTTP settings.
type DaemonConfig struct {
	Workers          int    `toml:"workers"`
	QueueSize        int    `toml:"queue_size"`
	SweepIntervalStr string `toml:"sweep_interval"`
	SweepInterval    time.Duration
	Listen           string `toml:"listen"`
}

// FilterConfig drops events before they are queued.
type FilterConfig struct {
	ExcludeTypes   []string `toml:"exclude_types"`
	ExcludeSources []string `toml:"exclude_sources"`
	MinSeverity    string   `toml:"min_severity"`
}

// SourcesConfig enables intake sources.
type SourcesConfig struct {
	File       *FileSourceConfig       `toml:"file"`
	Kafka      *KafkaSourceConfig      `toml:"kafka"`
	NATS       *NATSSourceConfig       `toml:"nats"`
	SQS        *SQSSourceConfig        `toml:"sqs"`
	CloudTrail *CloudTrailSourceConfig `toml:"cloudtrail"`
}

// FileSourceConfig reads JSON lines from a file, "-" for stdin.
type FileSourceConfig struct {
	Path string `toml:"path"`
}

// KafkaSourceConfig consumes a Kafka topic.
type KafkaSourceConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

// NATSSourceConfig subscribes to a NATS subject.
type NATSSourceConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
	Queue   string `toml:"queue"`
}

// SQSSourceConfig long-polls an SQS queue.
type SQSSourceConfig struct {
	QueueURL string `toml:"queue_url"`
	Region   string `toml:"region"`
}

// CloudTrailSourceConfig polls CloudTrail LookupEvents.
type CloudTrailSourceConfig struct {
	Region      string `toml:"region"`
	IntervalStr string `toml:"interval"`
	Interval    time.Duration
}

// EmittersConfig selects result sinks. Log and Prometheus are always on.
type EmittersConfig struct {
	S3 *S3EmitterConfig `toml:"s3"`
}

// S3EmitterConfig archives results as JSON objects.
type S3EmitterConfig struct {
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`
	Region string `toml:"region"`
}

// RedisConfig enables the shared history cache. PoolSize 0 keeps the
// client default.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	DialTimeoutStr  string `toml:"dial_timeout"`
	DialTimeout     time.Duration
	ReadTimeoutStr  string `toml:"read_timeout"`
	ReadTimeout     time.Duration
	WriteTimeoutStr string `toml:"write_timeout"`
	WriteTimeout    time.Duration
	PoolSize        int  `toml:"pool_size"`
	TLS             bool `toml:"tls"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./vigil-data"
	}
	if cfg.WAL.Dir == "" {
		cfg.WAL.Dir = "./vigil-data/wal"
	}
	if cfg.WAL.RetentionDays == 0 {
		cfg.WAL.RetentionDays = 30
	}
	if cfg.LLM.TimeoutStr == "" {
		cfg.LLM.TimeoutStr = "15s"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "VIGIL_LLM_API_KEY"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 200
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "vigil"
	}
	if cfg.Daemon.Workers == 0 {
		cfg.Daemon.Workers = 4
	}
	if cfg.Daemon.QueueSize == 0 {
		cfg.Daemon.QueueSize = 10000
	}
	if cfg.Daemon.SweepIntervalStr == "" {
		cfg.Daemon.SweepIntervalStr = "5m"
	}
	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = ":8080"
	}
	if cfg.Sources.CloudTrail != nil && cfg.Sources.CloudTrail.IntervalStr == "" {
		cfg.Sources.CloudTrail.IntervalStr = "1m"
	}
	if cfg.Redis.DialTimeoutStr == "" {
		cfg.Redis.DialTimeoutStr = "5s"
	}
	if cfg.Redis.ReadTimeoutStr == "" {
		cfg.Redis.ReadTimeoutStr = "3s"
	}
	if cfg.Redis.WriteTimeoutStr == "" {
		cfg.Redis.WriteTimeoutStr = "3s"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.LLM.Timeout, err = parseDuration("llm.timeout", cfg.LLM.TimeoutStr); err != nil {
		return err
	}
	if cfg.Daemon.SweepInterval, err = parseDuration("daemon.sweep_interval", cfg.Daemon.SweepIntervalStr); err != nil {
		return err
	}
	if cfg.Redis.DialTimeout, err = parseDuration("redis.dial_timeout", cfg.Redis.DialTimeoutStr); err != nil {
		return err
	}
	if cfg.Redis.ReadTimeout, err = parseDuration("redis.read_timeout", cfg.Redis.ReadTimeoutStr); err != nil {
		return err
	}
	if cfg.Redis.WriteTimeout, err = parseDuration("redis.write_timeout", cfg.Redis.WriteTimeoutStr); err != nil {
		return err
	}
	if ct := cfg.Sources.CloudTrail; ct != nil {
		if ct.Interval, err = parseDuration("sources.cloudtrail.interval", ct.IntervalStr); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	return d, nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Daemon.Workers < 1 {
		return fmt.Errorf("daemon: workers must be at least 1 (got %d)", c.Daemon.Workers)
	}
	if c.Daemon.QueueSize < 1 {
		return fmt.Errorf("daemon: queue_size must be at least 1 (got %d)", c.Daemon.QueueSize)
	}
	if c.WAL.RetentionDays < 0 {
		return fmt.Errorf("wal: retention_days cannot be negative")
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Filter.MinSeverity != "" {
		if _, ok := types.ParseSeverity(c.Filter.MinSeverity); !ok {
			return fmt.Errorf("filter: unknown min_severity %q", c.Filter.MinSeverity)
		}
	}
	if k := c.Sources.Kafka; k != nil && (len(k.Brokers) == 0 || k.Topic == "") {
		return fmt.Errorf("sources.kafka: brokers and topic are required")
	}
	if n := c.Sources.NATS; n != nil && (n.URL == "" || n.Subject == "") {
		return fmt.Errorf("sources.nats: url and subject are required")
	}
	if s := c.Sources.SQS; s != nil && s.QueueURL == "" {
		return fmt.Errorf("sources.sqs: queue_url is required")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis: pool_size cannot be negative")
	}
	if s := c.Emitters.S3; s != nil && s.Bucket == "" {
		return fmt.Errorf("emitters.s3: bucket is required")
	}
	return nil
}
