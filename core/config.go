package core

import (
	"fmt"
	"strings"
	"time"
)

// WorkerConfig carries the delivery worker knobs. Durations are expressed
// in milliseconds so they survive flat config sources unchanged.
type WorkerConfig struct {
	PollIntervalMs  int `koanf:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	BatchSize       int `koanf:"batch_size" mapstructure:"batch_size"`
	MaxAttempts     int `koanf:"max_attempts" mapstructure:"max_attempts"`
	RetryDelayMs    int `koanf:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	MaxDelayMs      int `koanf:"max_delay_ms" mapstructure:"max_delay_ms"`
	NotifyTimeoutMs int `koanf:"notify_timeout_ms" mapstructure:"notify_timeout_ms"`
}

func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c WorkerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c WorkerConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

func (c WorkerConfig) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutMs) * time.Millisecond
}

func (c WorkerConfig) FailurePolicy() FailurePolicy {
	return FailurePolicy{
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay(),
		MaxDelay:    c.MaxDelay(),
	}
}

type Config struct {
	ServiceName string       `koanf:"service_name" mapstructure:"service_name"`
	Worker      WorkerConfig `koanf:"worker" mapstructure:"worker"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "dispatch",
		Worker: WorkerConfig{
			PollIntervalMs:  5000,
			BatchSize:       50,
			MaxAttempts:     5,
			RetryDelayMs:    2000,
			MaxDelayMs:      int((5 * time.Minute).Milliseconds()),
			NotifyTimeoutMs: int((30 * time.Second).Milliseconds()),
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Worker.PollIntervalMs < 0 {
		return fmt.Errorf("core: worker poll_interval_ms must not be negative")
	}
	if c.Worker.BatchSize < 0 {
		return fmt.Errorf("core: worker batch_size must not be negative")
	}
	if c.Worker.MaxAttempts < 0 {
		return fmt.Errorf("core: worker max_attempts must not be negative")
	}
	return nil
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	defaults := DefaultConfig().Worker
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = defaults.PollIntervalMs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.RetryDelayMs <= 0 {
		c.RetryDelayMs = defaults.RetryDelayMs
	}
	if c.MaxDelayMs <= 0 {
		c.MaxDelayMs = defaults.MaxDelayMs
	}
	return c
}
