// Package config loads and validates the YAML configuration describing
// which addresses this proxy listens on and how its sessions are bounded.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it is written in the YAML file as a
// human-readable string ("30s", "2m") parsed with time.ParseDuration, and
// formats back the same way. Callers needing a time.Duration convert with
// time.Duration(d).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler, parsing the scalar node with
// time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// String renders d the way time.Duration does, so %s and %v format it as
// "30s" rather than a raw integer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Listener is a single SOCKS5 listening endpoint.
type Listener struct {
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	DNSServer string `yaml:"dns_server"`
}

// Config is the top-level YAML configuration.
type Config struct {
	Listeners     []Listener `yaml:"listeners"`
	MaxSessions   int        `yaml:"max_sessions"`
	IdleTimeout   Duration   `yaml:"idle_timeout"`
	SweepInterval Duration   `yaml:"sweep_interval"`
	BufferSize    int        `yaml:"buffer_size"`
}

const (
	defaultDNSServer     = "8.8.8.8:53"
	defaultMaxSessions   = 1024
	defaultIdleTimeout   = Duration(30 * time.Second)
	defaultSweepInterval = Duration(30 * time.Second)
	defaultBufferSize    = 8192
)

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaultsAndValidate() error {
	if len(cfg.Listeners) == 0 {
		return fmt.Errorf("config: at least one listener is required")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	seen := make(map[string]struct{}, len(cfg.Listeners))
	for i, l := range cfg.Listeners {
		if l.Address == "" {
			cfg.Listeners[i].Address = "0.0.0.0"
			l.Address = cfg.Listeners[i].Address
		}
		if ip := net.ParseIP(l.Address); ip == nil {
			return fmt.Errorf("config: listeners[%d]: invalid address %q", i, l.Address)
		}

		if l.Port < 1 || l.Port > 65535 {
			return fmt.Errorf("config: listeners[%d]: port %d out of range (1-65535)", i, l.Port)
		}

		if l.DNSServer == "" {
			cfg.Listeners[i].DNSServer = defaultDNSServer
		} else if _, _, err := net.SplitHostPort(l.DNSServer); err != nil {
			return fmt.Errorf("config: listeners[%d]: invalid dns_server %q: %w", i, l.DNSServer, err)
		}

		key := fmt.Sprintf("%s:%d", cfg.Listeners[i].Address, l.Port)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("config: listeners[%d]: duplicate listen address %q", i, key)
		}
		seen[key] = struct{}{}
	}

	return nil
}
