package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// clientIDPrefix prefixes generated client identifiers.
const clientIDPrefix = "mqttcore-"

// Config is the root configuration for the mqttcore service.
// Values come from YAML and can be overridden by MQTTCORE_* environment variables.
type Config struct {
	Broker       BrokerConfig       `yaml:"broker"`
	Connect      ConnectConfig      `yaml:"connect"`
	Reconnect    ReconnectConfig    `yaml:"reconnect"`
	Library      LibraryConfig      `yaml:"library"`
	Publish      PublishConfig      `yaml:"publish"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Admin        AdminConfig        `yaml:"admin"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// BrokerConfig identifies the MQTT server.
type BrokerConfig struct {
	Host        string        `yaml:"host" env:"MQTTCORE_BROKER_HOST"`
	Port        int           `yaml:"port" env:"MQTTCORE_BROKER_PORT"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	TLS         TLSConfig     `yaml:"tls"`
}

// TLSConfig contains the PEM files used for a TLS broker connection.
type TLSConfig struct {
	Enabled        bool   `yaml:"enabled" env:"MQTTCORE_TLS_ENABLED"`
	RootCAFile     string `yaml:"root_ca_file" env:"MQTTCORE_TLS_ROOT_CA_FILE"`
	ClientCertFile string `yaml:"client_cert_file" env:"MQTTCORE_TLS_CLIENT_CERT_FILE"`
	ClientKeyFile  string `yaml:"client_key_file" env:"MQTTCORE_TLS_CLIENT_KEY_FILE"`
	ServerName     string `yaml:"server_name"`
}

// ConnectConfig holds the CONNECT packet contents and startup subscriptions.
type ConnectConfig struct {
	ClientID     string `yaml:"client_id" env:"MQTTCORE_CLIENT_ID"`
	CleanSession bool   `yaml:"clean_session"`

	// KeepAlive is in seconds. Zero disables keep-alive outside AWS mode.
	KeepAlive uint16 `yaml:"keep_alive"`

	AWSIoT   bool          `yaml:"aws_iot" env:"MQTTCORE_AWS_IOT"`
	Username string        `yaml:"username" env:"MQTTCORE_USERNAME"`
	Password string        `yaml:"password" env:"MQTTCORE_PASSWORD"`
	Timeout  time.Duration `yaml:"timeout"`

	Will          WillConfig           `yaml:"will"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// WillConfig is the last will message. An empty Topic means no will.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// SubscriptionConfig is a topic filter subscribed at startup.
type SubscriptionConfig struct {
	Filter string `yaml:"filter"`
	QoS    int    `yaml:"qos"`
}

// ReconnectConfig controls how a lost broker session is re-established.
// Delays double per consecutive failure from InitialDelay up to MaxDelay.
type ReconnectConfig struct {
	Enabled      bool          `yaml:"enabled" env:"MQTTCORE_RECONNECT_ENABLED"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`

	// MaxAttempts limits consecutive failed sessions. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// LibraryConfig tunes the MQTT library.
type LibraryConfig struct {
	ResponseWait      time.Duration `yaml:"response_wait" env:"MQTTCORE_RESPONSE_WAIT"`
	RetryCeiling      time.Duration `yaml:"retry_ceiling"`
	MaxConnections    int           `yaml:"max_connections"`
	NetworkWorkers    int           `yaml:"network_workers"`
	NetworkQueueSize  int           `yaml:"network_queue_size"`
	CallbackWorkers   int           `yaml:"callback_workers"`
	CallbackQueueSize int           `yaml:"callback_queue_size"`
	AWSMetrics        bool          `yaml:"aws_metrics"`
}

// PublishConfig contains defaults for outgoing QoS 1 messages.
type PublishConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval"`
	RetryLimit    uint32        `yaml:"retry_limit"`
}

// SessionStoreConfig contains the SQLite settings for persisted subscriptions.
type SessionStoreConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path" env:"MQTTCORE_SESSION_STORE_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for operation telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"MQTTCORE_INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"MQTTCORE_INFLUXDB_URL"`
	Token         string `yaml:"token" env:"MQTTCORE_INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// AdminConfig contains the admin HTTP listener settings.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host" env:"MQTTCORE_ADMIN_HOST"`
	Port    int    `yaml:"port" env:"MQTTCORE_ADMIN_PORT"`

	// JWTSecret enables bearer authentication on every route except
	// /healthz. Tokens are HS256 JWTs signed with this secret.
	JWTSecret string `yaml:"jwt_secret" env:"MQTTCORE_ADMIN_JWT_SECRET"`

	Stream StreamConfig `yaml:"stream"`
}

// StreamConfig tunes the WebSocket message stream.
type StreamConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"MQTTCORE_LOG_LEVEL"`
	Format string `yaml:"format" env:"MQTTCORE_LOG_FORMAT"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Generated client identifier if none was given
//
// Environment variables follow the pattern MQTTCORE_SECTION_KEY,
// for example MQTTCORE_BROKER_HOST or MQTTCORE_INFLUXDB_TOKEN.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.Connect.ClientID == "" {
		cfg.Connect.ClientID = clientIDPrefix + uuid.New().String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:        "localhost",
			Port:        1883,
			DialTimeout: 10 * time.Second,
		},
		Connect: ConnectConfig{
			CleanSession: true,
			KeepAlive:    60,
			Timeout:      10 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Enabled:      true,
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
		},
		Library: LibraryConfig{
			ResponseWait:      time.Second,
			RetryCeiling:      60 * time.Second,
			MaxConnections:    2,
			NetworkWorkers:    4,
			NetworkQueueSize:  64,
			CallbackWorkers:   2,
			CallbackQueueSize: 64,
		},
		Publish: PublishConfig{
			RetryInterval: time.Second,
			RetryLimit:    3,
		},
		SessionStore: SessionStoreConfig{
			Enabled:     true,
			Path:        "./data/mqttcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "mqttcore",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Admin: AdminConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9090,
			Stream: StreamConfig{
				PingInterval:   30 * time.Second,
				PongTimeout:    10 * time.Second,
				MaxMessageSize: 4096,
				SendBuffer:     256,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides decodes MQTTCORE_* variables over the loaded values.
// Fields whose variable is unset keep their current value.
func applyEnvOverrides(cfg *Config) error {
	err := envdecode.Decode(cfg)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	tls := c.Broker.TLS
	if (tls.ClientCertFile == "") != (tls.ClientKeyFile == "") {
		errs = append(errs, "broker.tls.client_cert_file and client_key_file must be set together")
	}

	if c.Connect.ClientID == "" {
		errs = append(errs, "connect.client_id is required")
	}
	if c.Connect.Will.Topic != "" && !validQoS(c.Connect.Will.QoS) {
		errs = append(errs, "connect.will.qos must be 0 or 1")
	}
	for i, s := range c.Connect.Subscriptions {
		if s.Filter == "" {
			errs = append(errs, fmt.Sprintf("connect.subscriptions[%d].filter is required", i))
		}
		if !validQoS(s.QoS) {
			errs = append(errs, fmt.Sprintf("connect.subscriptions[%d].qos must be 0 or 1", i))
		}
	}

	if c.Reconnect.InitialDelay < 0 || c.Reconnect.MaxDelay < 0 || c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "reconnect delays and max_attempts must not be negative")
	}

	if c.Library.MaxConnections < 1 {
		errs = append(errs, "library.max_connections must be at least 1")
	}
	if c.Library.ResponseWait < 0 || c.Library.RetryCeiling < 0 {
		errs = append(errs, "library timings must not be negative")
	}

	if c.Publish.RetryLimit > 0 && c.Publish.RetryInterval <= 0 {
		errs = append(errs, "publish.retry_interval must be positive when retry_limit is set")
	}

	if c.SessionStore.Enabled && c.SessionStore.Path == "" {
		errs = append(errs, "session_store.path is required when enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when enabled")
		}
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		errs = append(errs, "admin.port must be between 1 and 65535")
	}
	st := c.Admin.Stream
	if st.PingInterval < 0 || st.PongTimeout < 0 || st.MaxMessageSize < 0 || st.SendBuffer < 0 {
		errs = append(errs, "admin.stream values must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validQoS(q int) bool {
	return q == 0 || q == 1
}

// GetConnectTimeout returns the CONNACK wait, falling back to ten seconds.
func (c *Config) GetConnectTimeout() time.Duration {
	if c.Connect.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Connect.Timeout
}

// GetFlushInterval returns the InfluxDB flush interval as a Duration.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.InfluxDB.FlushInterval) * time.Second
}

// AdminAddress returns the admin listener host:port.
func (c *Config) AdminAddress() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}
