// Package config loads the pagesync configuration from YAML or TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel string         `yaml:"log_level" toml:"log_level"`
	Relay    RelayConfig    `yaml:"relay" toml:"relay"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Browser  BrowserConfig  `yaml:"browser" toml:"browser"`
	Mirrors  []MirrorConfig `yaml:"mirrors" toml:"mirrors"`
	Sinks    []SinkConfig   `yaml:"sinks" toml:"sinks"`
}

// RelayConfig controls the relay server.
type RelayConfig struct {
	Listen     string `yaml:"listen" toml:"listen"`
	RecordPath string `yaml:"record_path" toml:"record_path"` // empty disables recording
	SendBuffer int    `yaml:"send_buffer" toml:"send_buffer"`
	// InjectLimit caps control API injections per client per InjectWindow.
	// 0 disables the limit.
	InjectLimit  int           `yaml:"inject_limit" toml:"inject_limit"`
	InjectWindow time.Duration `yaml:"inject_window" toml:"inject_window"`
}

// SessionConfig controls controllers and their schedulers.
type SessionConfig struct {
	ReadyTimeout  time.Duration `yaml:"ready_timeout" toml:"ready_timeout"`
	Frame         time.Duration `yaml:"frame" toml:"frame"`
	MaxBuffer     int           `yaml:"max_buffer" toml:"max_buffer"`
	LocationDelay time.Duration `yaml:"location_delay" toml:"location_delay"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote          string        `yaml:"remote" toml:"remote"`
	RecycleInterval time.Duration `yaml:"recycle_interval" toml:"recycle_interval"`
	Block           []string      `yaml:"block" toml:"block"`
	Stealth         string        `yaml:"stealth" toml:"stealth"` // headless | headful
	XvfbDisplay     string        `yaml:"xvfb_display" toml:"xvfb_display"`
}

// MirrorConfig defines a headless guest kept in sync through a relay.
type MirrorConfig struct {
	ID               string        `yaml:"id" toml:"id"`
	URL              string        `yaml:"url" toml:"url"`
	Relay            string        `yaml:"relay" toml:"relay"` // ws://host/ws
	Session          string        `yaml:"session" toml:"session"`
	Render           string        `yaml:"render" toml:"render"` // auto | http | browser
	Width            int           `yaml:"width" toml:"width"`
	Height           int           `yaml:"height" toml:"height"`
	SameParent       bool          `yaml:"same_parent" toml:"same_parent"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" toml:"snapshot_interval"`
	SnapshotDir      string        `yaml:"snapshot_dir" toml:"snapshot_dir"`
	// SanitizeSnapshots strips scripts and event handlers from snapshots.
	SanitizeSnapshots bool `yaml:"sanitize_snapshots" toml:"sanitize_snapshots"`
}

// SinkConfig defines an extra output for relayed messages.
type SinkConfig struct {
	Type    string `yaml:"type" toml:"type"` // stdout | webhook
	URL     string `yaml:"url" toml:"url"`   // for webhook
	Retries int    `yaml:"retries" toml:"retries"`
}

// LoadFile reads a configuration file. Files ending in .toml are decoded as
// TOML, everything else as YAML.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// ParseTOML decodes TOML, applies defaults and validates. Durations are
// strings ("30s") as in YAML.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse toml: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults and validates. Call it after changing a loaded
// configuration, e.g. from command-line flags.
func (c *Config) Normalize() error {
	c.applyDefaults()
	return c.Validate()
}

// Default returns the configuration used without a file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Relay.Listen == "" {
		c.Relay.Listen = ":8470"
	}
	if c.Relay.SendBuffer <= 0 {
		c.Relay.SendBuffer = 256
	}
	if c.Relay.InjectWindow <= 0 {
		c.Relay.InjectWindow = time.Minute
	}
	if c.Session.ReadyTimeout <= 0 {
		c.Session.ReadyTimeout = 30 * time.Second
	}
	if c.Session.Frame <= 0 {
		c.Session.Frame = 16 * time.Millisecond
	}
	if c.Session.MaxBuffer <= 0 {
		c.Session.MaxBuffer = 1000
	}
	if c.Session.LocationDelay <= 0 {
		c.Session.LocationDelay = 100 * time.Millisecond
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	for i := range c.Mirrors {
		m := &c.Mirrors[i]
		if m.ID == "" {
			m.ID = fmt.Sprintf("mirror-%d", i+1)
		}
		if m.Render == "" {
			m.Render = "auto"
		}
		if m.Width <= 0 {
			m.Width = 1024
		}
		if m.Height <= 0 {
			m.Height = 768
		}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

// Validate checks the values defaults cannot fix.
func (c *Config) Validate() error {
	var errs []error
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		errs = append(errs, fmt.Errorf("config: browser.stealth %q: want headless or headful", c.Browser.Stealth))
	}
	for _, m := range c.Mirrors {
		if m.URL == "" {
			errs = append(errs, fmt.Errorf("config: mirror %s: url is required", m.ID))
		}
		if m.Session == "" {
			errs = append(errs, fmt.Errorf("config: mirror %s: session is required", m.ID))
		}
		switch m.Render {
		case "auto", "http", "browser":
		default:
			errs = append(errs, fmt.Errorf("config: mirror %s: render %q: want auto, http or browser", m.ID, m.Render))
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("config: sink %d: webhook url is required", i))
			}
		default:
			errs = append(errs, fmt.Errorf("config: sink %d: unknown type %q", i, s.Type))
		}
	}
	return errors.Join(errs...)
}
