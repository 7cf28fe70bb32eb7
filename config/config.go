package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	DataDir   string `yaml:"data_dir"`
	DeviceID  string `yaml:"device_id"`
	TenantKey string `yaml:"tenant_key"`

	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Remote       RemoteConfig       `yaml:"remote"`
	Messaging    MessagingConfig    `yaml:"messaging"`
	Web          WebConfig          `yaml:"web"`
	Log          LogConfig          `yaml:"log"`
}

// SyncConfig controls the coordinator's schedule and retry policy.
type SyncConfig struct {
	Interval   time.Duration `yaml:"interval"    json:"interval"`
	RetryCount int           `yaml:"retry_count" json:"retry_count"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	LegacyDir  string        `yaml:"legacy_dir"  json:"legacy_dir"`
}

// ConnectivityConfig selects how reachability is probed.
type ConnectivityConfig struct {
	Probe    string        `yaml:"probe"` // "gateway", "http", "tcp" or "none"
	URL      string        `yaml:"url"`
	Address  string        `yaml:"address"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RemoteConfig defines the shared snapshot store.
type RemoteConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite", "postgres", "redis" or "http"
	Cache    bool           `yaml:"cache"`  // front sqlite/postgres with redis
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// SQLiteConfig defines SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig defines PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig defines Redis connection settings.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// HTTPConfig points a device at a hub instance.
type HTTPConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// MessagingConfig defines the optional change-hint backend.
type MessagingConfig struct {
	Backend     string      `yaml:"backend"` // "", "mqtt" or "kafka"
	MQTT        MQTTConfig  `yaml:"mqtt"`
	Kafka       KafkaConfig `yaml:"kafka"`
	TopicPrefix string      `yaml:"topic_prefix"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig defines log level and an optional rotating log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		DataDir: "data",
		Sync: SyncConfig{
			Interval:   2 * time.Minute,
			RetryCount: 3,
			RetryDelay: 2 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			Probe:    "gateway",
			Interval: 15 * time.Second,
			Timeout:  5 * time.Second,
		},
		Remote: RemoteConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: "ledgersync-hub.db",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "ledgersync",
				User:     "ledgersync",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "ledgersync",
			},
			HTTP: HTTPConfig{
				URL:     "http://localhost:8090",
				Timeout: 15 * time.Second,
			},
		},
		Messaging: MessagingConfig{
			TopicPrefix: "ledgersync/tenants",
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
			Kafka: KafkaConfig{
				GroupID: "ledgersync",
			},
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Sync.RetryCount < 1 {
		errs = append(errs, errors.New("sync.retry_count must be at least 1"))
	}
	if c.Sync.RetryDelay < 0 {
		errs = append(errs, errors.New("sync.retry_delay must not be negative"))
	}
	switch c.Remote.Driver {
	case "sqlite", "postgres", "redis", "http":
	default:
		errs = append(errs, fmt.Errorf("unsupported remote driver: %q", c.Remote.Driver))
	}
	switch c.Connectivity.Probe {
	case "gateway", "http", "tcp", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported connectivity probe: %q", c.Connectivity.Probe))
	}
	switch c.Messaging.Backend {
	case "", "mqtt", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unsupported messaging backend: %q", c.Messaging.Backend))
	}
	return errors.Join(errs...)
}

// EnsureDeviceID assigns a random device id if none is configured and
// reports whether one was generated.
func (c *Config) EnsureDeviceID() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeviceID != "" {
		return false
	}
	c.DeviceID = uuid.NewString()
	return true
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
