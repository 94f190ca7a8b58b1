// Package config loads gateway configuration from a YAML file.
//
// All durations are string fields in Go duration syntax ("500ms", "15m")
// so a config file round-trips cleanly; accessor methods on Config return
// the parsed values. Load applies defaults, environment overrides, and
// validation, so a *Config obtained from Load or Default is always usable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DataDir  string         `yaml:"data_dir"`
	TLS      TLSConfig      `yaml:"tls"`
	Tunnels  TunnelsConfig  `yaml:"tunnels"`
	Events   EventsConfig   `yaml:"events"`
	Upstream UpstreamConfig `yaml:"upstream"`
}

type ServerConfig struct {
	// HTTPAddr is the WebSocket tunnel + management API listener.
	HTTPAddr string `yaml:"http_addr"`

	// WireAddr is the plain-TCP listener speaking the instruction
	// protocol directly. Empty disables it.
	WireAddr string `yaml:"wire_addr"`
}

type TLSConfig struct {
	// Mode selects transport security: off, selfsigned, acme, custom.
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Domains are the hostnames an acme certificate may be issued for.
	Domains []string `yaml:"domains"`
}

type TunnelsConfig struct {
	// IdleTimeout evicts tunnels with no reader activity for this long.
	// "0" disables eviction.
	IdleTimeout   string `yaml:"idle_timeout"`
	SweepInterval string `yaml:"sweep_interval"`
}

type EventsConfig struct {
	// CoalesceWindow bounds how long intermediate pointer positions
	// may be merged before one must be sent upstream.
	CoalesceWindow string `yaml:"coalesce_window"`
}

type UpstreamConfig struct {
	DialTimeout string `yaml:"dial_timeout"`

	// PollTimeout bounds one blocking wait on the remote display so
	// tunnel-side closure is noticed on an idle connection.
	PollTimeout string `yaml:"poll_timeout"`

	// DialRetries is how many times a failed connect to the remote
	// display is retried (with backoff) before giving up.
	DialRetries int `yaml:"dial_retries"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return loadBytes(b, true)
}

// LoadFromBytes parses configuration without applying environment
// overrides. This is intended for testing where env vars should not
// interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	return loadBytes(data, false)
}

func loadBytes(data []byte, env bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if env {
		applyEnvOverrides(&cfg)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	if cfg.Server.WireAddr == "" {
		cfg.Server.WireAddr = ":4822"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.TLS.Mode == "" {
		cfg.TLS.Mode = "off"
	}
	if cfg.Tunnels.IdleTimeout == "" {
		cfg.Tunnels.IdleTimeout = "15m"
	}
	if cfg.Tunnels.SweepInterval == "" {
		cfg.Tunnels.SweepInterval = "1m"
	}
	if cfg.Events.CoalesceWindow == "" {
		cfg.Events.CoalesceWindow = "500ms"
	}
	if cfg.Upstream.DialTimeout == "" {
		cfg.Upstream.DialTimeout = "10s"
	}
	if cfg.Upstream.PollTimeout == "" {
		cfg.Upstream.PollTimeout = "2s"
	}
	if cfg.Upstream.DialRetries <= 0 {
		cfg.Upstream.DialRetries = 3
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIEWPORT_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("VIEWPORT_WIRE_ADDR"); v != "" {
		cfg.Server.WireAddr = v
	}
	if v := os.Getenv("VIEWPORT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VIEWPORT_TLS_MODE"); v != "" {
		cfg.TLS.Mode = v
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.TLS.Mode {
	case "off", "selfsigned", "acme", "custom":
	default:
		return fmt.Errorf("invalid tls.mode %q", cfg.TLS.Mode)
	}
	if cfg.TLS.Mode == "custom" && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls.mode custom requires tls.cert_file and tls.key_file")
	}
	if cfg.TLS.Mode == "acme" && len(cfg.TLS.Domains) == 0 {
		return fmt.Errorf("tls.mode acme requires tls.domains")
	}

	for name, s := range map[string]string{
		"tunnels.idle_timeout":   cfg.Tunnels.IdleTimeout,
		"tunnels.sweep_interval": cfg.Tunnels.SweepInterval,
		"events.coalesce_window": cfg.Events.CoalesceWindow,
		"upstream.dial_timeout":  cfg.Upstream.DialTimeout,
		"upstream.poll_timeout":  cfg.Upstream.PollTimeout,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("invalid %s %q", name, s)
		}
	}
	return nil
}

// Duration accessors. The strings were validated at load time, so a
// parse failure here means the Config was built by hand; fall back to
// the documented default rather than panic.

func (c *Config) TunnelIdleTimeout() time.Duration {
	return duration(c.Tunnels.IdleTimeout, 15*time.Minute)
}

func (c *Config) TunnelSweepInterval() time.Duration {
	return duration(c.Tunnels.SweepInterval, time.Minute)
}

func (c *Config) CoalesceWindow() time.Duration {
	return duration(c.Events.CoalesceWindow, 500*time.Millisecond)
}

func (c *Config) UpstreamDialTimeout() time.Duration {
	return duration(c.Upstream.DialTimeout, 10*time.Second)
}

func (c *Config) UpstreamPollTimeout() time.Duration {
	return duration(c.Upstream.PollTimeout, 2*time.Second)
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
