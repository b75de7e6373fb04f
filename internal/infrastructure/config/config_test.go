package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// ============================================================================
// Load
// ============================================================================

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
broker:
  host: "broker.example.com"
  port: 8883
  tls:
    enabled: true
    root_ca_file: "/etc/mqttcore/ca.pem"
connect:
  client_id: "sensor-7"
  clean_session: false
  keep_alive: 120
  will:
    topic: "status/sensor-7"
    payload: "offline"
    qos: 1
  subscriptions:
    - filter: "cmd/sensor-7/#"
      qos: 1
library:
  response_wait: 2s
  retry_ceiling: 30s
publish:
  retry_interval: 500ms
  retry_limit: 5
session_store:
  path: "/tmp/session.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "broker.example.com" || cfg.Broker.Port != 8883 {
		t.Errorf("Broker = %s:%d, want broker.example.com:8883", cfg.Broker.Host, cfg.Broker.Port)
	}
	if !cfg.Broker.TLS.Enabled {
		t.Error("Broker.TLS.Enabled = false, want true")
	}
	if cfg.Connect.ClientID != "sensor-7" {
		t.Errorf("Connect.ClientID = %q, want %q", cfg.Connect.ClientID, "sensor-7")
	}
	if cfg.Connect.CleanSession {
		t.Error("Connect.CleanSession = true, want false")
	}
	if cfg.Connect.KeepAlive != 120 {
		t.Errorf("Connect.KeepAlive = %d, want 120", cfg.Connect.KeepAlive)
	}
	if len(cfg.Connect.Subscriptions) != 1 || cfg.Connect.Subscriptions[0].Filter != "cmd/sensor-7/#" {
		t.Errorf("Connect.Subscriptions = %+v", cfg.Connect.Subscriptions)
	}
	if cfg.Library.ResponseWait != 2*time.Second {
		t.Errorf("Library.ResponseWait = %v, want 2s", cfg.Library.ResponseWait)
	}
	if cfg.Publish.RetryInterval != 500*time.Millisecond {
		t.Errorf("Publish.RetryInterval = %v, want 500ms", cfg.Publish.RetryInterval)
	}
	if cfg.SessionStore.Path != "/tmp/session.db" {
		t.Errorf("SessionStore.Path = %q, want %q", cfg.SessionStore.Path, "/tmp/session.db")
	}
	// Untouched sections keep defaults.
	if cfg.Library.MaxConnections != 2 {
		t.Errorf("Library.MaxConnections = %d, want 2", cfg.Library.MaxConnections)
	}
}

func TestLoad_GeneratesClientID(t *testing.T) {
	path := writeConfig(t, "broker:\n  host: localhost\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !strings.HasPrefix(cfg.Connect.ClientID, clientIDPrefix) {
		t.Errorf("Connect.ClientID = %q, want %q prefix", cfg.Connect.ClientID, clientIDPrefix)
	}

	other, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if other.Connect.ClientID == cfg.Connect.ClientID {
		t.Error("generated client IDs should differ between loads")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
broker:
  host: ""
  port: 0
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "broker.host is required; broker.port") {
		t.Errorf("Load() error = %v, want joined validation messages", err)
	}
}

// ============================================================================
// Environment overrides
// ============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("MQTTCORE_BROKER_HOST", "mqtt.example.com")
	t.Setenv("MQTTCORE_BROKER_PORT", "8883")
	t.Setenv("MQTTCORE_CLIENT_ID", "from-env")
	t.Setenv("MQTTCORE_USERNAME", "testuser")
	t.Setenv("MQTTCORE_PASSWORD", "testpass")
	t.Setenv("MQTTCORE_RESPONSE_WAIT", "3s")
	t.Setenv("MQTTCORE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("MQTTCORE_SESSION_STORE_PATH", "/custom/path.db")
	t.Setenv("MQTTCORE_RECONNECT_ENABLED", "false")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Broker.Host != "mqtt.example.com" {
		t.Errorf("Broker.Host = %q, want %q", cfg.Broker.Host, "mqtt.example.com")
	}
	if cfg.Broker.Port != 8883 {
		t.Errorf("Broker.Port = %d, want 8883", cfg.Broker.Port)
	}
	if cfg.Connect.ClientID != "from-env" {
		t.Errorf("Connect.ClientID = %q, want %q", cfg.Connect.ClientID, "from-env")
	}
	if cfg.Connect.Username != "testuser" || cfg.Connect.Password != "testpass" {
		t.Errorf("credentials = %q/%q, want testuser/testpass", cfg.Connect.Username, cfg.Connect.Password)
	}
	if cfg.Library.ResponseWait != 3*time.Second {
		t.Errorf("Library.ResponseWait = %v, want 3s", cfg.Library.ResponseWait)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.SessionStore.Path != "/custom/path.db" {
		t.Errorf("SessionStore.Path = %q, want %q", cfg.SessionStore.Path, "/custom/path.db")
	}
	if cfg.Reconnect.Enabled {
		t.Error("Reconnect.Enabled = true, want false from env")
	}
	// Unset variables leave values alone.
	if cfg.Admin.Port != 9090 {
		t.Errorf("Admin.Port = %d, want 9090", cfg.Admin.Port)
	}
}

func TestApplyEnvOverrides_NoneSet(t *testing.T) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		t.Errorf("applyEnvOverrides() error = %v, want nil", err)
	}
}

func TestApplyEnvOverrides_BadValue(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("MQTTCORE_BROKER_PORT", "not-a-port")

	if err := applyEnvOverrides(cfg); err == nil {
		t.Error("applyEnvOverrides() expected error for bad integer, got nil")
	}
}

// ============================================================================
// Validate
// ============================================================================

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Connect.ClientID = "client"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", modify: func(*Config) {}},
		{name: "missing broker host", modify: func(c *Config) { c.Broker.Host = "" }, wantErr: true},
		{name: "invalid port low", modify: func(c *Config) { c.Broker.Port = 0 }, wantErr: true},
		{name: "invalid port high", modify: func(c *Config) { c.Broker.Port = 70000 }, wantErr: true},
		{name: "cert without key", modify: func(c *Config) { c.Broker.TLS.ClientCertFile = "cert.pem" }, wantErr: true},
		{name: "missing client ID", modify: func(c *Config) { c.Connect.ClientID = "" }, wantErr: true},
		{
			name: "will QoS 2",
			modify: func(c *Config) {
				c.Connect.Will = WillConfig{Topic: "w", QoS: 2}
			},
			wantErr: true,
		},
		{
			name: "subscription without filter",
			modify: func(c *Config) {
				c.Connect.Subscriptions = []SubscriptionConfig{{QoS: 1}}
			},
			wantErr: true,
		},
		{name: "negative reconnect delay", modify: func(c *Config) { c.Reconnect.InitialDelay = -time.Second }, wantErr: true},
		{name: "negative reconnect attempts", modify: func(c *Config) { c.Reconnect.MaxAttempts = -1 }, wantErr: true},
		{name: "zero max connections", modify: func(c *Config) { c.Library.MaxConnections = 0 }, wantErr: true},
		{name: "negative response wait", modify: func(c *Config) { c.Library.ResponseWait = -time.Second }, wantErr: true},
		{name: "retry limit without interval", modify: func(c *Config) { c.Publish.RetryInterval = 0 }, wantErr: true},
		{name: "no retry without interval", modify: func(c *Config) {
			c.Publish.RetryInterval = 0
			c.Publish.RetryLimit = 0
		}},
		{name: "negative stream buffer", modify: func(c *Config) { c.Admin.Stream.SendBuffer = -1 }, wantErr: true},
		{name: "admin jwt secret", modify: func(c *Config) { c.Admin.JWTSecret = "s3cret" }},
		{name: "session store without path", modify: func(c *Config) { c.SessionStore.Path = "" }, wantErr: true},
		{name: "disabled session store without path", modify: func(c *Config) {
			c.SessionStore.Enabled = false
			c.SessionStore.Path = ""
		}},
		{name: "influxdb without url", modify: func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Org = "o" }, wantErr: true},
		{name: "admin port zero", modify: func(c *Config) { c.Admin.Port = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================================
// Getters
// ============================================================================

func TestConfig_Getters(t *testing.T) {
	cfg := validConfig()
	cfg.InfluxDB.FlushInterval = 15
	cfg.Admin.Host = "0.0.0.0"
	cfg.Admin.Port = 9100

	if got := cfg.GetFlushInterval(); got != 15*time.Second {
		t.Errorf("GetFlushInterval() = %v, want 15s", got)
	}
	if got := cfg.AdminAddress(); got != "0.0.0.0:9100" {
		t.Errorf("AdminAddress() = %q, want %q", got, "0.0.0.0:9100")
	}

	cfg.Connect.Timeout = 0
	if got := cfg.GetConnectTimeout(); got != 10*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 10s fallback", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Broker.Port != 1883 {
		t.Errorf("defaultConfig Broker.Port = %d, want 1883", cfg.Broker.Port)
	}
	if !cfg.Connect.CleanSession {
		t.Error("defaultConfig should use a clean session")
	}
	if cfg.Library.ResponseWait != time.Second {
		t.Errorf("defaultConfig Library.ResponseWait = %v, want 1s", cfg.Library.ResponseWait)
	}
	if cfg.Library.RetryCeiling != 60*time.Second {
		t.Errorf("defaultConfig Library.RetryCeiling = %v, want 60s", cfg.Library.RetryCeiling)
	}
	if cfg.SessionStore.Path == "" {
		t.Error("defaultConfig should have non-empty SessionStore.Path")
	}
	if !cfg.Reconnect.Enabled || cfg.Reconnect.InitialDelay != time.Second || cfg.Reconnect.MaxDelay != time.Minute {
		t.Errorf("defaultConfig Reconnect = %+v, want enabled 1s..1m", cfg.Reconnect)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load(configs/config.yaml) error = %v", err)
	}
	if len(cfg.Connect.Subscriptions) != 2 || cfg.Connect.Will.Topic == "" {
		t.Errorf("example config = %+v", cfg.Connect)
	}
}
