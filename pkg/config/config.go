package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/beaconmon/internal/beacon"
)

// Config holds daemon configuration
type Config struct {
	LogLevel   string           `yaml:"log_level" default:"info"`
	StatePath  string           `yaml:"state_path" default:"~/.config/beaconmon/state.yaml"`
	Socket     string           `yaml:"socket"`
	Engine     EngineConfig     `yaml:"engine"`
	Capability CapabilityConfig `yaml:"capability"`
	Background BackgroundConfig `yaml:"background"`
}

// EngineConfig configures the scanning engine; it is re-applied on every bind
type EngineConfig struct {
	Layouts                     []string      `yaml:"layouts"`
	ForegroundScanPeriod        time.Duration `yaml:"foreground_scan_period" default:"1100ms"`
	ForegroundBetweenScanPeriod time.Duration `yaml:"foreground_between_scan_period" default:"0s"`
	BackgroundScanPeriod        time.Duration `yaml:"background_scan_period" default:"1500ms"`
	BackgroundBetweenScanPeriod time.Duration `yaml:"background_between_scan_period" default:"3s"`
	ExitTimeout                 time.Duration `yaml:"exit_timeout" default:"10s"`
}

// CapabilityConfig selects and seeds the capability probe
type CapabilityConfig struct {
	Mode           string `yaml:"mode" default:"auto"` // auto, bluez, policy
	Adapter        string `yaml:"adapter" default:"/org/bluez/hci0"`
	Bluetooth      bool   `yaml:"bluetooth" default:"true"`
	Location       bool   `yaml:"location" default:"true"`
	Permission     string `yaml:"permission" default:"always"`
	GrantOnRequest string `yaml:"grant_on_request" default:"always"`
}

// BackgroundConfig configures the background delivery channel
type BackgroundConfig struct {
	// Command is started to bring up the background channel; empty waits for a client.
	Command   []string `yaml:"command"`
	KeepAlive bool     `yaml:"keep_alive" default:"true"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Engine.Layouts = []string{beacon.IBeaconLayout}
	return cfg
}

// Load reads a YAML config file over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("expand config path: %w", err)
		}
		data, err := os.ReadFile(expanded)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", expanded, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", expanded, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be caught by decoding
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if len(c.Engine.Layouts) == 0 {
		return fmt.Errorf("engine.layouts must not be empty")
	}
	for _, l := range c.Engine.Layouts {
		if _, err := beacon.ParseLayout(l); err != nil {
			return fmt.Errorf("engine.layouts: %w", err)
		}
	}
	if c.Engine.ForegroundScanPeriod <= 0 || c.Engine.BackgroundScanPeriod <= 0 {
		return fmt.Errorf("scan periods must be positive")
	}
	if c.Engine.ExitTimeout <= 0 {
		return fmt.Errorf("engine.exit_timeout must be positive")
	}
	switch c.Capability.Mode {
	case "auto", "bluez", "policy":
	default:
		return fmt.Errorf("invalid capability.mode %q (must be auto, bluez or policy)", c.Capability.Mode)
	}
	for _, tier := range []string{c.Capability.Permission, c.Capability.GrantOnRequest} {
		if _, err := beacon.ParseTier(tier); err != nil {
			return fmt.Errorf("capability: %w", err)
		}
	}
	return nil
}

// ResolvedStatePath returns StatePath with a leading ~ expanded
func (c *Config) ResolvedStatePath() (string, error) {
	return homedir.Expand(c.StatePath)
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
