// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Stream StreamConfig `yaml:"stream"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig identifies the Plex server to watch.
type ServerConfig struct {
	URL   string `yaml:"url" validate:"required,url"`
	Token string `yaml:"token"`

	// InsecureSkipVerify disables TLS certificate validation, for servers
	// with self-signed certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// StreamConfig tunes the notification stream.
type StreamConfig struct {
	HeartbeatSec  int      `yaml:"heartbeat_sec" default:"15" validate:"gte=1,lte=300"`
	Subscriptions []string `yaml:"subscriptions"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output string `yaml:"output" default:"stdout"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for the server URL and token.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("PLEX_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("PLEX_TOKEN"); v != "" {
		c.Server.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// Heartbeat returns the configured heartbeat interval.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Stream.HeartbeatSec) * time.Second
}
