package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
polling:
  interval_seconds: 10
receivers:
  - id: "living-room"
    name: "Living Room"
    host: "192.168.1.40"
    power:
      mode: command
      on_command: "echo 0x4B36D32C > /dev/ttyACM0"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Errorf("PollInterval() = %v, want 10s", cfg.PollInterval())
	}
	if len(cfg.Receivers) != 1 {
		t.Fatalf("len(Receivers) = %d, want 1", len(cfg.Receivers))
	}

	r := cfg.Receivers[0]
	if r.Address() != "192.168.1.40:60128" {
		t.Errorf("Address() = %q, want %q", r.Address(), "192.168.1.40:60128")
	}
	if r.MaxVolume != DefaultMaxVolume {
		t.Errorf("MaxVolume = %d, want %d", r.MaxVolume, DefaultMaxVolume)
	}
	if r.PowerOnDelay() != 45*time.Second {
		t.Errorf("PowerOnDelay() = %v, want 45s", r.PowerOnDelay())
	}
	if diff := cmp.Diff(DefaultSources, r.Sources); diff != "" {
		t.Errorf("Sources mismatch (-want +got):\n%s", diff)
	}
	if r.Probe.Method != ProbeMethodTCP || r.Probe.Port != 60128 {
		t.Errorf("Probe = %+v, want tcp on 60128", r.Probe)
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
database:
  path: "/tmp/test.db"
receivers:
  - id: "den"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "receivers[0].host is required") {
		t.Errorf("error = %v, want mention of missing host", err)
	}
}

func TestLoad_PollIntervalFloor(t *testing.T) {
	tests := []struct {
		name     string
		interval int
		want     int
	}{
		{"unset uses default", 0, DefaultPollIntervalSeconds},
		{"below floor raised", 1, MinPollIntervalSeconds},
		{"at floor kept", 3, 3},
		{"above floor kept", 60, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Polling.IntervalSeconds = tt.interval
			cfg.applyDefaults()
			if cfg.Polling.IntervalSeconds != tt.want {
				t.Errorf("IntervalSeconds = %d, want %d", cfg.Polling.IntervalSeconds, tt.want)
			}
		})
	}
}

func TestReceiverConfig_ApplyDefaults(t *testing.T) {
	r := ReceiverConfig{ID: "den", Host: "10.0.0.5", Probe: ProbeConfig{Method: ProbeMethodHTTP}}
	r.applyDefaults()

	if r.Name != "den" {
		t.Errorf("Name = %q, want %q", r.Name, "den")
	}
	if r.Probe.Port != 80 {
		t.Errorf("Probe.Port = %d, want 80 for http", r.Probe.Port)
	}
	if r.Power.Mode != PowerModeNone {
		t.Errorf("Power.Mode = %q, want %q", r.Power.Mode, PowerModeNone)
	}
	if r.RestoreSourceDelay() != 12*time.Second {
		t.Errorf("RestoreSourceDelay() = %v, want 12s", r.RestoreSourceDelay())
	}

	// Defaults must not alias the package-level table.
	r.Sources[0] = "changed"
	if DefaultSources[0] != "cd" {
		t.Error("applyDefaults aliased DefaultSources")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Receivers = []ReceiverConfig{{ID: "a", Host: "10.0.0.2"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "missing database path",
			modify:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path is required",
		},
		{
			name:    "invalid QoS",
			modify:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid API port",
			modify:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "no receivers",
			modify:  func(c *Config) { c.Receivers = nil },
			wantErr: "at least one receiver",
		},
		{
			name: "duplicate receiver id",
			modify: func(c *Config) {
				c.Receivers = append(c.Receivers, c.Receivers[0])
			},
			wantErr: "is duplicated",
		},
		{
			name:    "command mode without command",
			modify:  func(c *Config) { c.Receivers[0].Power.Mode = PowerModeCommand },
			wantErr: "power.on_command is required",
		},
		{
			name:    "unknown power mode",
			modify:  func(c *Config) { c.Receivers[0].Power.Mode = "ir" },
			wantErr: "power.mode",
		},
		{
			name:    "unknown probe method",
			modify:  func(c *Config) { c.Receivers[0].Probe.Method = "icmp" },
			wantErr: "probe.method",
		},
		{
			name:    "max volume out of range",
			modify:  func(c *Config) { c.Receivers[0].MaxVolume = 500 },
			wantErr: "max_volume",
		},
		{
			name:    "duplicate source",
			modify:  func(c *Config) { c.Receivers[0].Sources = []string{"cd", "cd"} },
			wantErr: `contains "cd" twice`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("AVRSYNC_DATABASE_PATH", "/env/avrsync.db")
	t.Setenv("AVRSYNC_MQTT_HOST", "mqtt.env")
	t.Setenv("AVRSYNC_MQTT_PASSWORD", "secret")
	t.Setenv("AVRSYNC_INFLUXDB_TOKEN", "influx-token")
	t.Setenv("AVRSYNC_DEBUG", "true")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/env/avrsync.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/env/avrsync.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.env" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.env")
	}
	if cfg.MQTT.Auth.Password != "secret" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "secret")
	}
	if cfg.InfluxDB.Token != "influx-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "influx-token")
	}
	if !cfg.Debug || cfg.Logging.Level != "debug" {
		t.Errorf("Debug = %v, Level = %q; want debug enabled", cfg.Debug, cfg.Logging.Level)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Polling.IntervalSeconds != 30 {
		t.Errorf("Polling.IntervalSeconds = %d, want 30", cfg.Polling.IntervalSeconds)
	}
	if cfg.Cooldown() != time.Second {
		t.Errorf("Cooldown() = %v, want 1s", cfg.Cooldown())
	}
	if cfg.SettleDelay() != 2*time.Second {
		t.Errorf("SettleDelay() = %v, want 2s", cfg.SettleDelay())
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled should default to false")
	}
	if got := cfg.API.Timeouts.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v, want 30s", got)
	}
}

func TestLoad_DebugForcesLevel(t *testing.T) {
	content := `
debug: true
logging:
  level: warn
receivers:
  - id: "den"
    host: "10.0.0.9"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}
