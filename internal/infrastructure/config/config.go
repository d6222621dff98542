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

// Config is the root configuration structure for homectl.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller  ControllerConfig  `yaml:"controller"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	BackChannel BackChannelConfig `yaml:"backchannel"`
	History     HistoryConfig     `yaml:"history"`
	Entity      EntityConfig      `yaml:"entity"`
	Client      ClientConfig      `yaml:"client"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ControllerConfig contains the controller's two inbound HTTP endpoints.
type ControllerConfig struct {
	Discovery ListenConfig  `yaml:"discovery"`
	ClientAPI ListenConfig  `yaml:"client_api"`
	Timeouts  TimeoutConfig `yaml:"timeouts"`
}

// ListenConfig is a host/port pair for an HTTP listener.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form. IPv6 hosts are
// bracketed.
func (l ListenConfig) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// TimeoutConfig contains HTTP timeout settings in seconds.
type TimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MQTTConfig contains MQTT broker connection settings for the entity-data channel.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// HeartbeatConfig controls the entity liveness model.
//
// Entities are expected to heartbeat once per period. The monitor sweeps at
// the same cadence and reclaims any entity silent for more than ExpiryFactor
// periods.
type HeartbeatConfig struct {
	PeriodMS     int `yaml:"period_ms"`
	ExpiryFactor int `yaml:"expiry_factor"`
}

// Period returns the heartbeat period as a Duration.
func (h HeartbeatConfig) Period() time.Duration {
	return time.Duration(h.PeriodMS) * time.Millisecond
}

// BackChannelConfig contains settings for controller-initiated entity connections.
type BackChannelConfig struct {
	DialTimeoutMS    int `yaml:"dial_timeout_ms"`
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
}

// DialTimeout returns the back-channel dial timeout as a Duration.
func (b BackChannelConfig) DialTimeout() time.Duration {
	return time.Duration(b.DialTimeoutMS) * time.Millisecond
}

// RequestTimeout returns the per-request back-channel timeout as a Duration.
func (b BackChannelConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutMS) * time.Millisecond
}

// HistoryConfig contains InfluxDB settings for the optional telemetry history sink.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// EntityConfig contains settings used by sensor/actuator processes.
type EntityConfig struct {
	// DiscoveryURL is the controller's discovery endpoint.
	DiscoveryURL string `yaml:"discovery_url"`

	// PublishIntervalMS is the initial telemetry publish cadence.
	// Sensors adjust it when they receive a configuration update.
	PublishIntervalMS int `yaml:"publish_interval_ms"`
}

// PublishInterval returns the publish cadence as a Duration.
func (e EntityConfig) PublishInterval() time.Duration {
	return time.Duration(e.PublishIntervalMS) * time.Millisecond
}

// ClientConfig contains settings used by the client process.
type ClientConfig struct {
	// APIURL is the controller's client API endpoint.
	APIURL string `yaml:"api_url"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMECTL_SECTION_KEY
// For example: HOMECTL_MQTT_HOST, HOMECTL_DISCOVERY_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with sensible defaults for local development.
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{
			Discovery: ListenConfig{Host: "0.0.0.0", Port: 7010},
			ClientAPI: ListenConfig{Host: "0.0.0.0", Port: 7020},
			Timeouts: TimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homectl",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Heartbeat: HeartbeatConfig{
			PeriodMS:     1000,
			ExpiryFactor: 3,
		},
		BackChannel: BackChannelConfig{
			DialTimeoutMS:    5000,
			RequestTimeoutMS: 3000,
		},
		History: HistoryConfig{
			Enabled:       false,
			URL:           "http://localhost:8086",
			Org:           "homectl",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Entity: EntityConfig{
			DiscoveryURL:      "http://127.0.0.1:7010/v1/discovery",
			PublishIntervalMS: 1500,
		},
		Client: ClientConfig{
			APIURL: "http://127.0.0.1:7020/v1/client",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOMECTL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("HOMECTL_DISCOVERY_HOST"); v != "" {
		cfg.Controller.Discovery.Host = v
	}
	if v, ok := envInt("HOMECTL_DISCOVERY_PORT"); ok {
		cfg.Controller.Discovery.Port = v
	}
	if v := os.Getenv("HOMECTL_CLIENT_API_HOST"); v != "" {
		cfg.Controller.ClientAPI.Host = v
	}
	if v, ok := envInt("HOMECTL_CLIENT_API_PORT"); ok {
		cfg.Controller.ClientAPI.Port = v
	}

	// MQTT
	if v := os.Getenv("HOMECTL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v, ok := envInt("HOMECTL_MQTT_PORT"); ok {
		cfg.MQTT.Broker.Port = v
	}
	if v := os.Getenv("HOMECTL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMECTL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// History sink
	if v := os.Getenv("HOMECTL_HISTORY_TOKEN"); v != "" {
		cfg.History.Token = v
	}

	// Entity/client endpoints
	if v := os.Getenv("HOMECTL_DISCOVERY_URL"); v != "" {
		cfg.Entity.DiscoveryURL = v
	}
	if v := os.Getenv("HOMECTL_CLIENT_API_URL"); v != "" {
		cfg.Client.APIURL = v
	}
}

// envInt reads an integer environment variable.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Controller.Discovery.Port < 1 || c.Controller.Discovery.Port > 65535 {
		errs = append(errs, "controller.discovery.port must be between 1 and 65535")
	}
	if c.Controller.ClientAPI.Port < 1 || c.Controller.ClientAPI.Port > 65535 {
		errs = append(errs, "controller.client_api.port must be between 1 and 65535")
	}
	if c.Controller.Discovery.Port == c.Controller.ClientAPI.Port &&
		c.Controller.Discovery.Host == c.Controller.ClientAPI.Host {
		errs = append(errs, "controller.discovery and controller.client_api must not share an address")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Heartbeat.PeriodMS <= 0 {
		errs = append(errs, "heartbeat.period_ms must be positive")
	}
	if c.Heartbeat.ExpiryFactor < 2 {
		errs = append(errs, "heartbeat.expiry_factor must be at least 2")
	}

	if c.BackChannel.DialTimeoutMS <= 0 {
		errs = append(errs, "backchannel.dial_timeout_ms must be positive")
	}
	if c.BackChannel.RequestTimeoutMS <= 0 {
		errs = append(errs, "backchannel.request_timeout_ms must be positive")
	}

	if c.History.Enabled {
		if c.History.URL == "" {
			errs = append(errs, "history.url is required when history is enabled")
		}
		if c.History.Token == "" {
			errs = append(errs, "history.token is required when history is enabled (set HOMECTL_HISTORY_TOKEN)")
		}
	}

	if c.Entity.PublishIntervalMS <= 0 {
		errs = append(errs, "entity.publish_interval_ms must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Controller.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Controller.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Controller.Timeouts.Idle) * time.Second
}
