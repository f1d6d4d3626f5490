package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a marketbus instance.
type Config struct {
	Instance    InstanceConfig     `yaml:"instance"`
	Broker      BrokerConfig       `yaml:"broker"`
	Serializer  SerializerConfig   `yaml:"serializer"`
	Database    DBConfig           `yaml:"database"`
	DLQ         DLQConfig          `yaml:"dlq"`
	Publishers  []PublisherConfig  `yaml:"publishers"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
	Health      HealthConfig       `yaml:"health"`
	Server      ServerConfig       `yaml:"server"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BrokerConfig selects and parameterizes the pub/sub backend.
type BrokerConfig struct {
	Type string `yaml:"type"` // "memory" or "nats"
	URL  string `yaml:"url"`  // nats only
}

// SerializerConfig selects the wire codec.
type SerializerConfig struct {
	Type string `yaml:"type"` // "json", "gob" or "proto"
}

// DBConfig holds the PostgreSQL connection used by the persist subscriber.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DLQConfig holds dead-letter queue settings.
type DLQConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Path              string   `yaml:"path"` // sqlite file, ":memory:" for tests
	MaxRetries        int      `yaml:"max_retries"`
	RetentionDays     int      `yaml:"retention_days"`
	EnableAutoRetry   bool     `yaml:"enable_auto_retry"`
	AutoRetryInterval Duration `yaml:"auto_retry_interval"`
}

// PublisherConfig declares one publisher instance.
type PublisherConfig struct {
	ID              string   `yaml:"id"`
	Type            string   `yaml:"type"` // "quote"
	Enabled         bool     `yaml:"enabled"`
	Symbols         []string `yaml:"symbols"`
	BatchSize       int      `yaml:"batch_size"`
	RateLimit       int      `yaml:"rate_limit"` // max requests per rate_limit_period
	RateLimitPeriod Duration `yaml:"rate_limit_period"`
	PublishInterval Duration `yaml:"publish_interval"`
	DataInterval    string   `yaml:"data_interval"` // bar interval requested from the source
	Period          string   `yaml:"period"`        // lookback requested from the source
	BaseURL         string   `yaml:"base_url"`      // quote source endpoint
}

// SubscriberConfig declares one subscriber instance. Only the fields
// relevant to the given type are read.
type SubscriberConfig struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type"` // "persist", "state", "breadth", "trend", "websocket"
	Enabled  bool     `yaml:"enabled"`
	Channels []string `yaml:"channels"`

	// persist
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`

	// breadth, trend
	PublishInterval Duration `yaml:"publish_interval"`

	// trend
	WindowSize int   `yaml:"window_size"`
	SMAPeriods []int `yaml:"sma_periods"`

	// websocket
	ListenAddr        string   `yaml:"listen_addr"`
	AuthToken         string   `yaml:"auth_token"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// HealthConfig holds the component health monitor settings.
type HealthConfig struct {
	CheckInterval      Duration `yaml:"check_interval"` // 0 disables the monitor
	RestartOnFailure   bool     `yaml:"restart_on_failure"`
	MaxRestartAttempts int      `yaml:"max_restart_attempts"`
	RestartDelay       Duration `yaml:"restart_delay"`
}

// ServerConfig holds the operator HTTP endpoint settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Duration parses YAML values like "30s" or "5m" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
