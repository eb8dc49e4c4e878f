// Package config loads the server's construction-time configuration:
// worker thread count, listener bind addresses, and an optional idle
// timeout, per spec §6's "no other globals" rule, grounded on
// other_examples/nugget-thane-ai-agent's use of gopkg.in/yaml.v3 for a
// small on-disk config file.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ListenerConfig is one (bind-address, protocol) pair. Only "tcp" is
// implemented by the reactor's socket layer; other protocol values are
// accepted here and rejected at wiring time.
type ListenerConfig struct {
	Address  string `yaml:"address"`
	Protocol string `yaml:"protocol"`
}

// Config is the full set of construction-time parameters spec §6 allows.
type Config struct {
	WorkerCount int              `yaml:"worker_count"`
	Listeners   []ListenerConfig `yaml:"listeners"`
	IdleTimeout time.Duration    `yaml:"idle_timeout"`
}

// rawConfig mirrors Config but with IdleTimeout as a duration string
// (e.g. "30s"), since yaml.v3 doesn't know how to decode time.Duration
// directly from a scalar.
type rawConfig struct {
	WorkerCount int              `yaml:"worker_count"`
	Listeners   []ListenerConfig `yaml:"listeners"`
	IdleTimeout string           `yaml:"idle_timeout"`
}

// UnmarshalYAML decodes through rawConfig so IdleTimeout's duration
// string gets parsed with time.ParseDuration.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw rawConfig
	if err := unmarshal(&raw); err != nil {
		return err
	}
	c.WorkerCount = raw.WorkerCount
	c.Listeners = raw.Listeners
	if raw.IdleTimeout != "" {
		d, err := time.ParseDuration(raw.IdleTimeout)
		if err != nil {
			return errors.Wrap(err, "config: idle_timeout")
		}
		c.IdleTimeout = d
	}
	return nil
}

// defaultWorkerCount matches spec §6's stated default of 1.
const defaultWorkerCount = 1

// Load reads and parses a YAML config file at path, filling in the
// default worker count when the file omits it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	return Parse(raw)
}

// Parse decodes raw YAML bytes into a Config, applying the same defaults
// Load does.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	return &cfg, nil
}
