// Package config loads the bridge configuration from YAML and reloads
// the tunable section when the file changes on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Instance describes one NVR to bridge.
type Instance struct {
	ID       string `yaml:"id"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// HTTPS enables TLS to the device. Most units only speak plain HTTP.
	HTTPS bool `yaml:"https"`
}

// Tunables are the knobs that may be hot-reloaded without restarting.
type Tunables struct {
	AlarmResetSeconds    int `yaml:"alarm_reset_seconds"`
	PollIntervalSeconds  int `yaml:"poll_interval_seconds"`
	RetentionDays        int `yaml:"retention_days"`
	DetectionCapPerKind  int `yaml:"detection_cap_per_kind"`
	FlushDelaySeconds    int `yaml:"flush_delay_seconds"`
	PlateWindowSeconds   int `yaml:"plate_window_seconds"`
	PushReassertMinutes  int `yaml:"push_reassert_minutes"`
	DeviceTimeoutSeconds int `yaml:"device_timeout_seconds"`
}

// Config is the full bridge configuration.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
		// PublicURL is the address the NVR can reach us on for event push,
		// e.g. "192.168.1.10:8080". Defaults to Addr when empty.
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`

	Bus struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"bus"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Instances []Instance `yaml:"instances"`
	Tunables  Tunables   `yaml:"tunables"`
}

// Defaults applied when the YAML leaves a field zero.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = c.Server.Addr
	}
	if c.Bus.SubjectPrefix == "" {
		c.Bus.SubjectPrefix = "nvrbridge"
	}
	if c.Database.Path == "" {
		c.Database.Path = "nvrbridge.db"
	}
	t := &c.Tunables
	if t.AlarmResetSeconds == 0 {
		t.AlarmResetSeconds = 30
	}
	if t.PollIntervalSeconds == 0 {
		t.PollIntervalSeconds = 30
	}
	if t.RetentionDays == 0 {
		t.RetentionDays = 30
	}
	if t.DetectionCapPerKind == 0 {
		t.DetectionCapPerKind = 5000
	}
	if t.FlushDelaySeconds == 0 {
		t.FlushDelaySeconds = 60
	}
	if t.PlateWindowSeconds == 0 {
		t.PlateWindowSeconds = 60
	}
	if t.PushReassertMinutes == 0 {
		t.PushReassertMinutes = 5
	}
	if t.DeviceTimeoutSeconds == 0 {
		t.DeviceTimeoutSeconds = 15
	}
	for i := range c.Instances {
		if c.Instances[i].Port == 0 {
			c.Instances[i].Port = 80
		}
	}
}

// Validate rejects configurations the bridge cannot run with.
func (c *Config) Validate() error {
	if len(c.Instances) == 0 {
		return fmt.Errorf("config: no instances defined")
	}
	seen := make(map[string]bool, len(c.Instances))
	for _, inst := range c.Instances {
		if inst.ID == "" {
			return fmt.Errorf("config: instance missing id")
		}
		if seen[inst.ID] {
			return fmt.Errorf("config: duplicate instance id %q", inst.ID)
		}
		seen[inst.ID] = true
		if inst.Host == "" {
			return fmt.Errorf("config: instance %q missing host", inst.ID)
		}
		if inst.Username == "" {
			return fmt.Errorf("config: instance %q missing username", inst.ID)
		}
	}
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("config: server.jwt_secret is required")
	}
	return nil
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Durations derived from the tunables.
func (t Tunables) AlarmReset() time.Duration    { return time.Duration(t.AlarmResetSeconds) * time.Second }
func (t Tunables) PollInterval() time.Duration  { return time.Duration(t.PollIntervalSeconds) * time.Second }
func (t Tunables) Retention() time.Duration     { return time.Duration(t.RetentionDays) * 24 * time.Hour }
func (t Tunables) FlushDelay() time.Duration    { return time.Duration(t.FlushDelaySeconds) * time.Second }
func (t Tunables) PlateWindow() time.Duration   { return time.Duration(t.PlateWindowSeconds) * time.Second }
func (t Tunables) PushReassert() time.Duration  { return time.Duration(t.PushReassertMinutes) * time.Minute }
func (t Tunables) DeviceTimeout() time.Duration { return time.Duration(t.DeviceTimeoutSeconds) * time.Second }
