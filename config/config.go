// Package config loads run parameters from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aradilov/coord"
)

// Config holds the parameters of every scenario.
type Config struct {
	Channel ChannelConfig `yaml:"channel"`
	Queue   QueueConfig   `yaml:"queue"`
	Arbiter ArbiterConfig `yaml:"arbiter"`
	Delay   DelayConfig   `yaml:"delay"`
	Log     LogConfig     `yaml:"log"`
	Trace   bool          `yaml:"trace"`
}

// ChannelConfig drives the bounded channel pipeline.
type ChannelConfig struct {
	Producers        int `yaml:"producers"`
	Consumers        int `yaml:"consumers"`
	Capacity         int `yaml:"capacity"`
	ItemsPerProducer int `yaml:"items_per_producer"`
}

// QueueConfig drives the blocking queue scenario.
type QueueConfig struct {
	Producers        int `yaml:"producers"`
	Consumers        int `yaml:"consumers"`
	ItemsPerProducer int `yaml:"items_per_producer"`
	// StopAfterTarget makes consumers stop after producers*items dequeues
	// instead of waiting for the queue to be closed.
	StopAfterTarget bool `yaml:"stop_after_target"`
}

// ArbiterConfig drives the resource arbiter scenario.
type ArbiterConfig struct {
	Resources int `yaml:"resources"`
	Workers   int `yaml:"workers"`
	Cycles    int `yaml:"cycles"`
}

// DelayConfig scales the simulated work. Zero disables every pause.
type DelayConfig struct {
	Scale float64 `yaml:"scale"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a valid configuration.
func Default() Config {
	return Config{
		Channel: ChannelConfig{Producers: 2, Consumers: 2, Capacity: 5, ItemsPerProducer: 10},
		Queue:   QueueConfig{Producers: 2, Consumers: 2, ItemsPerProducer: 5, StopAfterTarget: true},
		Arbiter: ArbiterConfig{Resources: 5, Workers: 5, Cycles: 3},
		Delay:   DelayConfig{Scale: 0.1},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate returns the first invalid parameter as a *coord.ConfigError.
func (c Config) Validate() error {
	checks := []error{
		coord.ValidatePositive("channel.producers", c.Channel.Producers),
		coord.ValidatePositive("channel.consumers", c.Channel.Consumers),
		coord.ValidatePositive("channel.capacity", c.Channel.Capacity),
		coord.ValidateNonNegative("channel.items_per_producer", c.Channel.ItemsPerProducer),
		coord.ValidatePositive("queue.producers", c.Queue.Producers),
		coord.ValidatePositive("queue.consumers", c.Queue.Consumers),
		coord.ValidateNonNegative("queue.items_per_producer", c.Queue.ItemsPerProducer),
		coord.ValidatePositive("arbiter.resources", c.Arbiter.Resources),
		coord.ValidatePositive("arbiter.workers", c.Arbiter.Workers),
		coord.ValidateNonNegative("arbiter.cycles", c.Arbiter.Cycles),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if c.Delay.Scale < 0 {
		return &coord.ConfigError{Param: "delay.scale", Value: c.Delay.Scale, Reason: "must be >= 0"}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &coord.ConfigError{Param: "log.level", Value: c.Log.Level, Reason: "must be one of debug, info, warn, error"}
	}
	return nil
}
