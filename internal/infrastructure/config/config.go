package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker transport kinds.
const (
	TransportTCP       = "tcp"
	TransportTLS       = "tls"
	TransportWebSocket = "websocket"
)

// Config is the root configuration structure for the edge client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Client       ClientConfig       `yaml:"client"`
	Broker       BrokerConfig       `yaml:"broker"`
	Auth         AuthConfig         `yaml:"auth"`
	Will         WillConfig         `yaml:"will"`
	Backoff      BackoffConfig      `yaml:"backoff"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
}

// ClientConfig describes the MQTT session the client opens.
type ClientConfig struct {
	// ID is the MQTT client identifier. Empty means generated.
	ID string `yaml:"id"`

	// Session is "clean" or "continue".
	Session string `yaml:"session"`

	// Keepalive is the ping interval in seconds. Zero disables keepalive.
	Keepalive int `yaml:"keepalive"`

	// ConnectionTimeout bounds the wait for CONNACK, in seconds.
	ConnectionTimeout int `yaml:"connection_timeout"`

	// AckTimeout is how long QoS 1/2 exchanges wait before resending, in
	// seconds. Zero falls back to the keepalive interval.
	AckTimeout int `yaml:"ack_timeout"`

	// MaxPacketSize bounds inbound packets in bytes.
	MaxPacketSize int `yaml:"max_packet_size"`

	// StatusTopics publishes retained online/offline status messages.
	StatusTopics bool   `yaml:"status_topics"`
	TopicPrefix  string `yaml:"topic_prefix"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"`

	// Path is the WebSocket endpoint path.
	Path string `yaml:"path"`

	TLS BrokerTLSConfig `yaml:"tls"`

	DialTimeout  int `yaml:"dial_timeout"`
	WriteTimeout int `yaml:"write_timeout"`
}

// BrokerTLSConfig contains TLS settings for tls and wss connections.
type BrokerTLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// AuthConfig contains MQTT authentication credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WillConfig is the last-will message. An empty topic means no will.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// BackoffConfig contains reconnect penalty settings.
type BackoffConfig struct {
	// Delays is the reconnect delay per penalty level, in seconds.
	Delays []int `yaml:"delays"`

	// Decay is how long a level is kept after a success, in seconds.
	Decay []int `yaml:"decay"`

	Jitter bool `yaml:"jitter"`
}

// SchedulerConfig contains event loop settings.
type SchedulerConfig struct {
	// TickMS is the length of one scheduler tick in milliseconds.
	TickMS    int `yaml:"tick_ms"`
	MaxReady  int `yaml:"max_ready"`
	MaxTimers int `yaml:"max_timers"`
}

// SessionStoreConfig contains SQLite session persistence settings.
type SessionStoreConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// APIConfig contains the health and metrics HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYEDGE_SECTION_KEY
// For example: GRAYEDGE_BROKER_HOST, GRAYEDGE_AUTH_PASSWORD
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Session:           "clean",
			Keepalive:         60,
			ConnectionTimeout: 10,
			MaxPacketSize:     256 * 1024,
		},
		Broker: BrokerConfig{
			Host:         "localhost",
			Port:         1883,
			Transport:    TransportTCP,
			Path:         "/mqtt",
			DialTimeout:  10,
			WriteTimeout: 10,
		},
		Backoff: BackoffConfig{
			Delays: []int{0, 2, 4, 8, 16, 32, 64, 128, 256, 512},
			Decay:  []int{4, 4, 8, 16, 30, 30, 30, 30, 30, 30},
		},
		Scheduler: SchedulerConfig{
			TickMS:    1000,
			MaxReady:  1024,
			MaxTimers: 256,
		},
		SessionStore: SessionStoreConfig{
			Path:        "./data/edge-session.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/edgeclient.log",
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     28,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 9180,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYEDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Client
	if v := os.Getenv("GRAYEDGE_CLIENT_ID"); v != "" {
		cfg.Client.ID = v
	}

	// Broker
	if v := os.Getenv("GRAYEDGE_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("GRAYEDGE_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYEDGE_BROKER_TRANSPORT"); v != "" {
		cfg.Broker.Transport = v
	}

	// Auth
	if v := os.Getenv("GRAYEDGE_AUTH_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("GRAYEDGE_AUTH_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}

	// Session store
	if v := os.Getenv("GRAYEDGE_SESSION_STORE_PATH"); v != "" {
		cfg.SessionStore.Path = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYEDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYEDGE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	// Client validation
	switch c.Client.Session {
	case "", "clean", "continue":
	default:
		errs = append(errs, "client.session must be clean or continue")
	}
	if c.Client.Keepalive < 0 || c.Client.Keepalive > 65535 {
		errs = append(errs, "client.keepalive must be between 0 and 65535")
	}
	if c.Client.ConnectionTimeout < 1 {
		errs = append(errs, "client.connection_timeout must be at least 1")
	}
	if c.Client.AckTimeout < 0 {
		errs = append(errs, "client.ack_timeout cannot be negative")
	}
	if c.Client.MaxPacketSize < 0 {
		errs = append(errs, "client.max_packet_size cannot be negative")
	}

	// Broker validation
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	switch c.Broker.Transport {
	case TransportTCP, TransportTLS, TransportWebSocket:
	default:
		errs = append(errs, "broker.transport must be tcp, tls, or websocket")
	}
	if (c.Broker.TLS.CertFile == "") != (c.Broker.TLS.KeyFile == "") {
		errs = append(errs, "broker.tls.cert_file and broker.tls.key_file must be set together")
	}

	// Will validation
	if c.Will.QoS < 0 || c.Will.QoS > 2 {
		errs = append(errs, "will.qos must be 0, 1, or 2")
	}

	// Backoff validation
	if len(c.Backoff.Delays) == 0 {
		errs = append(errs, "backoff.delays must not be empty")
	}
	if len(c.Backoff.Decay) != len(c.Backoff.Delays) {
		errs = append(errs, "backoff.decay must have one entry per backoff.delays entry")
	}

	// Scheduler validation
	if c.Scheduler.TickMS < 1 {
		errs = append(errs, "scheduler.tick_ms must be at least 1")
	}

	// Session store validation
	if c.SessionStore.Enabled && c.SessionStore.Path == "" {
		errs = append(errs, "session_store.path is required when enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when enabled")
	}

	// Logging validation
	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required for file output")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TickDuration returns the length of one scheduler tick.
func (c *Config) TickDuration() time.Duration {
	return time.Duration(c.Scheduler.TickMS) * time.Millisecond
}

// Ticks converts whole seconds to scheduler ticks, rounding up so a
// non-zero interval never becomes zero.
func (c *Config) Ticks(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	ms := seconds * 1000
	return (ms + c.Scheduler.TickMS - 1) / c.Scheduler.TickMS
}

// TickTable converts a table of seconds to ticks.
func (c *Config) TickTable(seconds []int) []int {
	out := make([]int, len(seconds))
	for i, s := range seconds {
		out[i] = c.Ticks(s)
	}
	return out
}

// Address returns host:port of the broker.
func (b BrokerConfig) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// WebSocketURL returns the ws:// or wss:// endpoint of the broker.
// TLS settings are used when any of them are set.
func (b BrokerConfig) WebSocketURL() string {
	scheme := "ws"
	if b.TLS.Enabled() {
		scheme = "wss"
	}
	path := b.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + b.Address() + path
}

// Enabled reports whether any TLS setting is present.
func (t BrokerTLSConfig) Enabled() bool {
	return t.CAFile != "" || t.CertFile != "" || t.ServerName != "" || t.InsecureSkipVerify
}

// GetDialTimeout returns the broker dial timeout as a Duration.
func (c *Config) GetDialTimeout() time.Duration {
	return time.Duration(c.Broker.DialTimeout) * time.Second
}

// GetWriteTimeout returns the broker write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Broker.WriteTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetAPIWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetAPIWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
