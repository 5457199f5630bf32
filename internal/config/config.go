// ABOUTME: Server configuration loaded from YAML with documented defaults
// ABOUTME: Command-line flags override file values after Load
package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

// Defaults for the listen address.
const (
	DefaultHost = "localhost"
	DefaultPort = 1972
)

// DefaultGracePeriod is how long shutdown lets sessions finish.
const DefaultGracePeriod = 5 * time.Second

// Config is the complete server configuration.
type Config struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	MaxPayload  int           `yaml:"max_payload"`
	GracePeriod time.Duration `yaml:"grace_period"`

	// WebSocket is the listen address of the WebSocket bridge; empty disables it.
	WebSocket string `yaml:"websocket"`
	// Metrics is the listen address of /metrics and /health; empty disables it.
	Metrics string `yaml:"metrics"`

	NATS NATSConfig `yaml:"nats"`
	MDNS MDNSConfig `yaml:"mdns"`
	Log  LogConfig  `yaml:"log"`
}

// NATSConfig enables the event relay when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// MDNSConfig controls service advertisement.
type MDNSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// LogConfig holds the logging level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Host:        DefaultHost,
		Port:        DefaultPort,
		MaxPayload:  protocol.DefaultMaxPayload,
		GracePeriod: DefaultGracePeriod,
		NATS:        NATSConfig{Subject: "ftbuffer"},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s failed", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s failed", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port %d out of range 1..65535", c.Port)
	}
	if c.MaxPayload <= 0 {
		return errors.Errorf("max_payload %d must be positive", c.MaxPayload)
	}
	if c.GracePeriod < 0 {
		return errors.Errorf("grace_period %s is negative", c.GracePeriod)
	}
	return nil
}

// Addr returns host:port of the TCP listener.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
