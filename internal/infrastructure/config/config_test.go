package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
client:
  id: "sensor-17"
  session: "continue"
  keepalive: 30
broker:
  host: "broker.local"
  port: 8883
  transport: "tls"
  tls:
    server_name: "broker.local"
auth:
  username: "edge"
will:
  topic: "site/sensor-17/lwt"
  payload: "gone"
  qos: 1
session_store:
  enabled: true
  path: "/tmp/session.db"
api:
  enabled: true
  port: 9180
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Client.ID != "sensor-17" {
		t.Errorf("Client.ID = %q, want %q", cfg.Client.ID, "sensor-17")
	}
	if cfg.Client.Session != "continue" {
		t.Errorf("Client.Session = %q, want %q", cfg.Client.Session, "continue")
	}
	if cfg.Broker.Address() != "broker.local:8883" {
		t.Errorf("Broker.Address() = %q, want %q", cfg.Broker.Address(), "broker.local:8883")
	}
	if cfg.Will.QoS != 1 {
		t.Errorf("Will.QoS = %d, want 1", cfg.Will.QoS)
	}

	// Defaults survive for sections the file does not mention.
	if cfg.Client.ConnectionTimeout != 10 {
		t.Errorf("Client.ConnectionTimeout = %d, want 10", cfg.Client.ConnectionTimeout)
	}
	if len(cfg.Backoff.Delays) != 10 {
		t.Errorf("len(Backoff.Delays) = %d, want 10", len(cfg.Backoff.Delays))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
broker:
  host: ""
  transport: "quic"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// All problems are reported at once.
	for _, want := range []string{"broker.host", "broker.transport"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Load() error = %v, want mention of %s", err, want)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.Broker.Port != 1883 {
		t.Errorf("Broker.Port = %d, want 1883", cfg.Broker.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown session type", func(c *Config) { c.Client.Session = "sticky" }, true},
		{"keepalive too large", func(c *Config) { c.Client.Keepalive = 70000 }, true},
		{"zero connection timeout", func(c *Config) { c.Client.ConnectionTimeout = 0 }, true},
		{"negative ack timeout", func(c *Config) { c.Client.AckTimeout = -1 }, true},
		{"missing broker host", func(c *Config) { c.Broker.Host = "" }, true},
		{"invalid port low", func(c *Config) { c.Broker.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.Broker.Port = 70000 }, true},
		{"websocket transport", func(c *Config) { c.Broker.Transport = TransportWebSocket }, false},
		{"unknown transport", func(c *Config) { c.Broker.Transport = "udp" }, true},
		{"cert without key", func(c *Config) { c.Broker.TLS.CertFile = "client.pem" }, true},
		{"invalid will QoS", func(c *Config) { c.Will.QoS = 3 }, true},
		{"empty backoff delays", func(c *Config) { c.Backoff.Delays = nil }, true},
		{"mismatched decay table", func(c *Config) { c.Backoff.Decay = []int{1} }, true},
		{"zero tick", func(c *Config) { c.Scheduler.TickMS = 0 }, true},
		{"store enabled without path", func(c *Config) {
			c.SessionStore.Enabled = true
			c.SessionStore.Path = ""
		}, true},
		{"influxdb enabled without URL", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"file logging without path", func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.File.Path = ""
		}, true},
		{"api disabled ignores port", func(c *Config) { c.API.Port = 0 }, false},
		{"api enabled with bad port", func(c *Config) {
			c.API.Enabled = true
			c.API.Port = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Ticks(t *testing.T) {
	tests := []struct {
		tickMS  int
		seconds int
		want    int
	}{
		{1000, 0, 0},
		{1000, 5, 5},
		{500, 5, 10},
		{3000, 5, 2},
		{1000, -1, 0},
	}

	for _, tt := range tests {
		cfg := &Config{Scheduler: SchedulerConfig{TickMS: tt.tickMS}}
		if got := cfg.Ticks(tt.seconds); got != tt.want {
			t.Errorf("Ticks(%d) with tick %dms = %d, want %d", tt.seconds, tt.tickMS, got, tt.want)
		}
	}

	cfg := &Config{Scheduler: SchedulerConfig{TickMS: 500}}
	got := cfg.TickTable([]int{0, 1, 2})
	want := []int{0, 2, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TickTable()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBrokerConfig_WebSocketURL(t *testing.T) {
	tests := []struct {
		name   string
		broker BrokerConfig
		want   string
	}{
		{
			name:   "plain",
			broker: BrokerConfig{Host: "broker", Port: 80, Path: "/mqtt"},
			want:   "ws://broker:80/mqtt",
		},
		{
			name:   "tls without leading slash",
			broker: BrokerConfig{Host: "broker", Port: 443, Path: "mqtt", TLS: BrokerTLSConfig{ServerName: "broker"}},
			want:   "wss://broker:443/mqtt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.broker.WebSocketURL(); got != tt.want {
				t.Errorf("WebSocketURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		Broker: BrokerConfig{DialTimeout: 5, WriteTimeout: 7},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Scheduler: SchedulerConfig{TickMS: 250},
	}

	if got := cfg.GetDialTimeout().Seconds(); got != 5 {
		t.Errorf("GetDialTimeout() = %v, want 5", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 7 {
		t.Errorf("GetWriteTimeout() = %v, want 7", got)
	}
	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetAPIWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetAPIWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.TickDuration().Milliseconds(); got != 250 {
		t.Errorf("TickDuration() = %vms, want 250", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYEDGE_CLIENT_ID", "env-client")
	t.Setenv("GRAYEDGE_BROKER_HOST", "mqtt.example.com")
	t.Setenv("GRAYEDGE_BROKER_PORT", "8883")
	t.Setenv("GRAYEDGE_BROKER_TRANSPORT", "tls")
	t.Setenv("GRAYEDGE_AUTH_USERNAME", "testuser")
	t.Setenv("GRAYEDGE_AUTH_PASSWORD", "testpass")
	t.Setenv("GRAYEDGE_SESSION_STORE_PATH", "/custom/session.db")
	t.Setenv("GRAYEDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYEDGE_LOGGING_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Client.ID != "env-client" {
		t.Errorf("Client.ID = %q, want %q", cfg.Client.ID, "env-client")
	}
	if cfg.Broker.Host != "mqtt.example.com" {
		t.Errorf("Broker.Host = %q, want %q", cfg.Broker.Host, "mqtt.example.com")
	}
	if cfg.Broker.Port != 8883 {
		t.Errorf("Broker.Port = %d, want 8883", cfg.Broker.Port)
	}
	if cfg.Broker.Transport != TransportTLS {
		t.Errorf("Broker.Transport = %q, want %q", cfg.Broker.Transport, TransportTLS)
	}
	if cfg.Auth.Username != "testuser" {
		t.Errorf("Auth.Username = %q, want %q", cfg.Auth.Username, "testuser")
	}
	if cfg.Auth.Password != "testpass" {
		t.Errorf("Auth.Password = %q, want %q", cfg.Auth.Password, "testpass")
	}
	if cfg.SessionStore.Path != "/custom/session.db" {
		t.Errorf("SessionStore.Path = %q, want %q", cfg.SessionStore.Path, "/custom/session.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_InvalidPort(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYEDGE_BROKER_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.Broker.Port != 1883 {
		t.Errorf("Broker.Port = %d, want 1883 (unchanged)", cfg.Broker.Port)
	}
}
