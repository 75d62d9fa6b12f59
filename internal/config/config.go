// Package config loads optional runtime tuning knobs (queue capacity, idle
// timeout, scan interval) from a TOML file. A Coordinator works fine with
// the zero-value Config — defaults match the spec's documented constants.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the tunables a deployment may want to override. All
// durations are expressed in milliseconds in the TOML file for
// readability.
type Config struct {
	ExecutorCapacity   int    `toml:"executor_capacity"`
	ExecutorIdleMillis int    `toml:"executor_idle_millis"`
	ScanIntervalMillis int    `toml:"scan_interval_millis"`
	KeyPath            string `toml:"key_path"`
	BusDir             string `toml:"bus_dir"`
}

// Defaults matching spec §4.E / §5.
const (
	DefaultExecutorCapacity = 256
	DefaultIdleTimeout      = 5 * time.Second
	DefaultScanInterval     = 100 * time.Millisecond
)

// Load reads and parses a TOML config file at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExecutorCapacityOrDefault returns the configured capacity, or the spec
// default if unset.
func (c *Config) ExecutorCapacityOrDefault() int {
	if c == nil || c.ExecutorCapacity <= 0 {
		return DefaultExecutorCapacity
	}
	return c.ExecutorCapacity
}

// IdleTimeoutOrDefault returns the configured idle timeout, or the spec
// default if unset.
func (c *Config) IdleTimeoutOrDefault() time.Duration {
	if c == nil || c.ExecutorIdleMillis <= 0 {
		return DefaultIdleTimeout
	}
	return time.Duration(c.ExecutorIdleMillis) * time.Millisecond
}

// ScanIntervalOrDefault returns the configured scan interval, or the spec
// default if unset.
func (c *Config) ScanIntervalOrDefault() time.Duration {
	if c == nil || c.ScanIntervalMillis <= 0 {
		return DefaultScanInterval
	}
	return time.Duration(c.ScanIntervalMillis) * time.Millisecond
}
