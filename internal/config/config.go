// Package config provides YAML-based configuration loading for Digital OPD.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvServerURL overrides server.url when set. The remote endpoint is always
// supplied externally, never compiled in.
const EnvServerURL = "OPD_SERVER_URL"

// Duration wraps time.Duration so it can be written as "5s" or "300ms" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level Digital OPD configuration, loaded from config.yaml.
type Config struct {
	UserID    string          `yaml:"user_id"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Network   NetworkConfig   `yaml:"network"`
	Sync      SyncConfig      `yaml:"sync"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// ServerConfig locates the remote senior-doctor service.
type ServerConfig struct {
	URL string `yaml:"url"` // ws:// or wss:// endpoint
}

// DatabaseConfig selects and locates the local store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path   string `yaml:"path"`   // sqlite file path
	DSN    string `yaml:"dsn"`    // mysql DSN, required when driver is mysql
}

// NetworkConfig tunes the connectivity monitor.
type NetworkConfig struct {
	ProbeAddr     string   `yaml:"probe_addr"`     // host:port dialed to verify reachability
	ProbeInterval Duration `yaml:"probe_interval"` // how often to probe
	Debounce      Duration `yaml:"debounce"`       // how long a transition must persist
}

// SyncConfig tunes the offline queue drain.
type SyncConfig struct {
	ItemTimeout     Duration `yaml:"item_timeout"`      // per-item send deadline during a drain
	BaseBackoff     Duration `yaml:"base_backoff"`      // first whole-drain retry delay
	MaxBackoff      Duration `yaml:"max_backoff"`       // backoff cap
	MaxDrainRetries int      `yaml:"max_drain_retries"` // whole-drain retries before sync is marked failed
	Schedule        string   `yaml:"schedule"`          // optional 5-field cron for periodic sync
}

// DashboardConfig tunes the local status server.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. The OPD_SERVER_URL
// environment variable, when set, takes precedence over server.url.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if env := os.Getenv(EnvServerURL); env != "" {
		cfg.Server.URL = env
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.UserID == "" {
		c.UserID = "user_1"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "digitalopd.db"
	}
	if c.Network.ProbeAddr == "" {
		c.Network.ProbeAddr = probeAddrFromURL(c.Server.URL)
	}
	if c.Network.ProbeInterval == 0 {
		c.Network.ProbeInterval = Duration(5 * time.Second)
	}
	if c.Network.Debounce == 0 {
		c.Network.Debounce = Duration(300 * time.Millisecond)
	}
	if c.Sync.ItemTimeout == 0 {
		c.Sync.ItemTimeout = Duration(5 * time.Second)
	}
	if c.Sync.BaseBackoff == 0 {
		c.Sync.BaseBackoff = Duration(2 * time.Second)
	}
	if c.Sync.MaxBackoff == 0 {
		c.Sync.MaxBackoff = Duration(2 * time.Minute)
	}
	if c.Sync.MaxDrainRetries == 0 {
		c.Sync.MaxDrainRetries = 3
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.URL == "" {
		errs = append(errs, "server.url is required (or set "+EnvServerURL+")")
	} else if !strings.HasPrefix(c.Server.URL, "ws://") && !strings.HasPrefix(c.Server.URL, "wss://") {
		errs = append(errs, "server.url must be a ws:// or wss:// endpoint")
	}
	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the mysql driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// probeAddrFromURL derives a host:port dial target from a websocket URL.
func probeAddrFromURL(url string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(url, "wss://"), "ws://")
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return ""
	}
	if !strings.Contains(rest, ":") {
		if strings.HasPrefix(url, "wss://") {
			return rest + ":443"
		}
		return rest + ":80"
	}
	return rest
}
