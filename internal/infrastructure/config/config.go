package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Polling and receiver defaults.
const (
	// MinPollIntervalSeconds is the floor applied to polling.interval_seconds.
	// Values below it are raised silently rather than rejected.
	MinPollIntervalSeconds = 3

	DefaultPollIntervalSeconds = 30
	DefaultCooldownMS          = 1000
	DefaultSettleDelayMS       = 2000

	DefaultReceiverPort          = 60128
	DefaultMaxVolume             = 75
	DefaultPowerOnDelaySeconds   = 45
	DefaultRestoreSourceSeconds  = 12
	DefaultPowerTimeoutSeconds   = 5
	DefaultCommandTimeoutMS      = 1500
	DefaultMinCommandIntervalMS  = 50
	DefaultProbeTimeoutMS        = 1000
	DefaultProbeMethod           = "tcp"
	DefaultPowerMode             = PowerModeNone
	PowerModeNone                = "none"
	PowerModeCommand             = "command"
	PowerModeNetwork             = "network"
	ProbeMethodTCP               = "tcp"
	ProbeMethodHTTP              = "http"
	defaultHTTPProbePort         = 80
	maxVolumeUpperBound          = 200
	minCommandTimeoutMS          = 100
	maxCommandTimeoutMS          = 10000
)

// DefaultSources is the source table used when a receiver lists none.
// Order matters: the index is the source identifier exposed to consumers.
var DefaultSources = []string{"cd", "tuner", "phono", "aux1", "tape", "net", "usb"}

// Config is the root configuration structure for the AVR sync service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	API       APIConfig        `yaml:"api"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb"`
	Logging   LoggingConfig    `yaml:"logging"`
	Debug     bool             `yaml:"debug"`
	Polling   PollingConfig    `yaml:"polling"`
	Receivers []ReceiverConfig `yaml:"receivers"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	// HealthInterval is how often the service health message is republished (seconds).
	HealthInterval int `yaml:"health_interval"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PollingConfig controls the state poll scheduler shared by all receivers.
type PollingConfig struct {
	// IntervalSeconds is the time between poll ticks.
	// Default: 30. Values below 3 are raised to 3.
	IntervalSeconds int `yaml:"interval_seconds"`

	// CooldownMS is how long the in-flight guard stays set after a poll cycle
	// finishes, absorbing bursts of triggers.
	// Default: 1000
	CooldownMS int `yaml:"cooldown_ms"`

	// SettleDelayMS is the wait between an ordinary command and its resync.
	// Default: 2000
	SettleDelayMS int `yaml:"settle_delay_ms"`
}

// ReceiverConfig describes one networked A/V receiver.
type ReceiverConfig struct {
	// ID is the stable identity used to key cached state. Required.
	ID string `yaml:"id"`

	// Name is the display name. Defaults to ID.
	Name string `yaml:"name"`

	// Host is the receiver's IP address or hostname. Required.
	Host string `yaml:"host"`

	// Port is the eISCP control port. Default: 60128
	Port int `yaml:"port"`

	// MaxVolume is the device volume unit that maps to 100%. Default: 75
	MaxVolume int `yaml:"max_volume"`

	// PowerOnDelaySeconds is how long polling is suppressed after power-on.
	// Default: 45
	PowerOnDelaySeconds int `yaml:"power_on_delay_seconds"`

	// Power selects the mechanism used for power on/off.
	Power PowerConfig `yaml:"power"`

	// RestoreSourceOnPowerOn re-selects the last cached source after power-on.
	RestoreSourceOnPowerOn bool `yaml:"restore_source_on_power_on"`

	// RestoreSourceDelaySeconds is the wait before the source is re-selected.
	// Default: 12
	RestoreSourceDelaySeconds int `yaml:"restore_source_delay_seconds"`

	// Sources is the ordered source table. Default: DefaultSources.
	Sources []string `yaml:"sources"`

	// Probe configures the reachability check.
	Probe ProbeConfig `yaml:"probe"`

	// CommandTimeoutMS bounds every device query and command. Default: 1500
	CommandTimeoutMS int `yaml:"command_timeout_ms"`

	// MinCommandIntervalMS spaces consecutive frames sent to the receiver.
	// Default: 50
	MinCommandIntervalMS int `yaml:"min_command_interval_ms"`
}

// PowerConfig selects how power on/off is performed.
type PowerConfig struct {
	// Mode is one of "none", "command" (run a shell command) or
	// "network" (send the power command over the control protocol).
	Mode string `yaml:"mode"`

	// OnCommand is the shell command run for power-on when Mode is "command".
	OnCommand string `yaml:"on_command"`

	// OffCommand is the shell command run for power-off when Mode is "command".
	// If empty, power-off falls back to OnCommand (toggle-style IR blasters).
	OffCommand string `yaml:"off_command"`

	// TimeoutSeconds bounds the shell command. Default: 5
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ProbeConfig configures the reachability prober.
type ProbeConfig struct {
	// Method is "tcp" (connect to Port) or "http" (GET http://host:Port/).
	Method string `yaml:"method"`

	// Port defaults to the receiver port for tcp and 80 for http.
	Port int `yaml:"port"`

	// TimeoutMS bounds the probe. Default: 1000
	TimeoutMS int `yaml:"timeout_ms"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Per-receiver defaults for fields left empty
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: AVRSYNC_SECTION_KEY
// For example: AVRSYNC_DATABASE_PATH, AVRSYNC_MQTT_HOST
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

	cfg.applyDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/avrsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "avrsync",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Polling: PollingConfig{
			IntervalSeconds: DefaultPollIntervalSeconds,
			CooldownMS:      DefaultCooldownMS,
			SettleDelayMS:   DefaultSettleDelayMS,
		},
	}
}

// applyDefaults fills zero-valued fields that YAML cannot default on its own,
// such as entries of the receivers list, and enforces the poll interval floor.
func (c *Config) applyDefaults() {
	if c.Polling.IntervalSeconds == 0 {
		c.Polling.IntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.Polling.IntervalSeconds < MinPollIntervalSeconds {
		c.Polling.IntervalSeconds = MinPollIntervalSeconds
	}
	if c.Polling.CooldownMS <= 0 {
		c.Polling.CooldownMS = DefaultCooldownMS
	}
	if c.Polling.SettleDelayMS <= 0 {
		c.Polling.SettleDelayMS = DefaultSettleDelayMS
	}
	if c.Debug {
		c.Logging.Level = "debug"
	}

	for i := range c.Receivers {
		c.Receivers[i].applyDefaults()
	}
}

// applyDefaults fills unset receiver fields.
func (r *ReceiverConfig) applyDefaults() {
	if r.Name == "" {
		r.Name = r.ID
	}
	if r.Port == 0 {
		r.Port = DefaultReceiverPort
	}
	if r.MaxVolume == 0 {
		r.MaxVolume = DefaultMaxVolume
	}
	if r.PowerOnDelaySeconds == 0 {
		r.PowerOnDelaySeconds = DefaultPowerOnDelaySeconds
	}
	if r.RestoreSourceDelaySeconds == 0 {
		r.RestoreSourceDelaySeconds = DefaultRestoreSourceSeconds
	}
	if r.Power.Mode == "" {
		r.Power.Mode = DefaultPowerMode
	}
	if r.Power.TimeoutSeconds == 0 {
		r.Power.TimeoutSeconds = DefaultPowerTimeoutSeconds
	}
	if len(r.Sources) == 0 {
		r.Sources = append([]string(nil), DefaultSources...)
	}
	if r.Probe.Method == "" {
		r.Probe.Method = DefaultProbeMethod
	}
	if r.Probe.Port == 0 {
		if r.Probe.Method == ProbeMethodHTTP {
			r.Probe.Port = defaultHTTPProbePort
		} else {
			r.Probe.Port = r.Port
		}
	}
	if r.Probe.TimeoutMS == 0 {
		r.Probe.TimeoutMS = DefaultProbeTimeoutMS
	}
	if r.CommandTimeoutMS == 0 {
		r.CommandTimeoutMS = DefaultCommandTimeoutMS
	}
	if r.MinCommandIntervalMS == 0 {
		r.MinCommandIntervalMS = DefaultMinCommandIntervalMS
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AVRSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AVRSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("AVRSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AVRSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AVRSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("AVRSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("AVRSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("AVRSYNC_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Polling.IntervalSeconds < MinPollIntervalSeconds {
		errs = append(errs, fmt.Sprintf("polling.interval_seconds must be at least %d", MinPollIntervalSeconds))
	}

	if len(c.Receivers) == 0 {
		errs = append(errs, "at least one receiver must be configured")
	}

	seen := make(map[string]bool, len(c.Receivers))
	for i, r := range c.Receivers {
		prefix := fmt.Sprintf("receivers[%d]", i)
		if r.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else if seen[r.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, r.ID))
		}
		seen[r.ID] = true
		errs = append(errs, r.validate(prefix)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate returns the problems found in a single receiver entry.
func (r *ReceiverConfig) validate(prefix string) []string {
	var errs []string

	if r.Host == "" {
		errs = append(errs, prefix+".host is required")
	}
	if r.Port < 1 || r.Port > 65535 {
		errs = append(errs, prefix+".port must be between 1 and 65535")
	}
	if r.MaxVolume < 1 || r.MaxVolume > maxVolumeUpperBound {
		errs = append(errs, fmt.Sprintf("%s.max_volume must be between 1 and %d", prefix, maxVolumeUpperBound))
	}
	if r.PowerOnDelaySeconds < 0 {
		errs = append(errs, prefix+".power_on_delay_seconds must not be negative")
	}

	switch r.Power.Mode {
	case PowerModeNone, PowerModeNetwork:
	case PowerModeCommand:
		if r.Power.OnCommand == "" {
			errs = append(errs, prefix+".power.on_command is required when power.mode is \"command\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("%s.power.mode %q must be none, command or network", prefix, r.Power.Mode))
	}

	switch r.Probe.Method {
	case ProbeMethodTCP, ProbeMethodHTTP:
	default:
		errs = append(errs, fmt.Sprintf("%s.probe.method %q must be tcp or http", prefix, r.Probe.Method))
	}

	if r.CommandTimeoutMS < minCommandTimeoutMS || r.CommandTimeoutMS > maxCommandTimeoutMS {
		errs = append(errs, fmt.Sprintf("%s.command_timeout_ms must be between %d and %d",
			prefix, minCommandTimeoutMS, maxCommandTimeoutMS))
	}

	names := make(map[string]bool, len(r.Sources))
	for _, s := range r.Sources {
		if s == "" {
			errs = append(errs, prefix+".sources must not contain empty names")
			continue
		}
		if names[s] {
			errs = append(errs, fmt.Sprintf("%s.sources contains %q twice", prefix, s))
		}
		names[s] = true
	}

	return errs
}

// PollInterval returns the poll tick interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

// Cooldown returns the in-flight guard cooldown as a Duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Polling.CooldownMS) * time.Millisecond
}

// SettleDelay returns the post-command resync delay as a Duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Polling.SettleDelayMS) * time.Millisecond
}

// ReadTimeout returns the HTTP read timeout.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the HTTP keep-alive idle timeout.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

// Address returns the receiver's host:port control address.
func (r ReceiverConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PowerOnDelay returns the transition window length as a Duration.
func (r ReceiverConfig) PowerOnDelay() time.Duration {
	return time.Duration(r.PowerOnDelaySeconds) * time.Second
}

// RestoreSourceDelay returns the source restore delay as a Duration.
func (r ReceiverConfig) RestoreSourceDelay() time.Duration {
	return time.Duration(r.RestoreSourceDelaySeconds) * time.Second
}

// CommandTimeout returns the per-call device timeout as a Duration.
func (r ReceiverConfig) CommandTimeout() time.Duration {
	return time.Duration(r.CommandTimeoutMS) * time.Millisecond
}

// MinCommandInterval returns the minimum spacing between frames as a Duration.
func (r ReceiverConfig) MinCommandInterval() time.Duration {
	return time.Duration(r.MinCommandIntervalMS) * time.Millisecond
}

// ProbeTimeout returns the reachability probe timeout as a Duration.
func (r ReceiverConfig) ProbeTimeout() time.Duration {
	return time.Duration(r.Probe.TimeoutMS) * time.Millisecond
}

// PowerTimeout returns the power command timeout as a Duration.
func (r ReceiverConfig) PowerTimeout() time.Duration {
	return time.Duration(r.Power.TimeoutSeconds) * time.Second
}
