package core

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.ServiceName != "dispatch" {
		t.Fatalf("service name = %s", config.ServiceName)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if got := config.Worker.PollInterval(); got != 5*time.Second {
		t.Fatalf("poll interval = %v", got)
	}
	if got := config.Worker.NotifyTimeout(); got != 30*time.Second {
		t.Fatalf("notify timeout = %v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing service name", func(c *Config) { c.ServiceName = "  " }, true},
		{"negative poll interval", func(c *Config) { c.Worker.PollIntervalMs = -1 }, true},
		{"negative batch size", func(c *Config) { c.Worker.BatchSize = -1 }, true},
		{"negative max attempts", func(c *Config) { c.Worker.MaxAttempts = -1 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(&config)
			err := config.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestWorkerConfigWithDefaults(t *testing.T) {
	filled := WorkerConfig{}.withDefaults()
	defaults := DefaultConfig().Worker
	if filled.PollIntervalMs != defaults.PollIntervalMs ||
		filled.BatchSize != defaults.BatchSize ||
		filled.MaxAttempts != defaults.MaxAttempts ||
		filled.RetryDelayMs != defaults.RetryDelayMs ||
		filled.MaxDelayMs != defaults.MaxDelayMs {
		t.Fatalf("zero config must take the defaults: %+v", filled)
	}
	// Zero notify timeout stays zero: it disables the per-group deadline.
	if filled.NotifyTimeoutMs != 0 {
		t.Fatalf("notify timeout must not be defaulted: %+v", filled)
	}

	partial := WorkerConfig{BatchSize: 7}.withDefaults()
	if partial.BatchSize != 7 {
		t.Fatalf("explicit batch size overridden: %+v", partial)
	}
	if partial.MaxAttempts != DefaultConfig().Worker.MaxAttempts {
		t.Fatalf("missing max attempts not defaulted: %+v", partial)
	}
}

func TestWorkerConfigFailurePolicy(t *testing.T) {
	config := WorkerConfig{MaxAttempts: 4, RetryDelayMs: 1500, MaxDelayMs: 60_000}
	policy := config.FailurePolicy()
	if policy.MaxAttempts != 4 {
		t.Fatalf("max attempts = %d", policy.MaxAttempts)
	}
	if policy.RetryDelay != 1500*time.Millisecond {
		t.Fatalf("retry delay = %v", policy.RetryDelay)
	}
	if policy.MaxDelay != time.Minute {
		t.Fatalf("max delay = %v", policy.MaxDelay)
	}
}
