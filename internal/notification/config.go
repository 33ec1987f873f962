package notification

import "time"

// Config controls the receipt dispatcher loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	RetryBase    time.Duration
	MaxAttempts  int
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		BatchSize:    20,
		Lease:        2 * time.Minute,
		RetryBase:    time.Minute,
		MaxAttempts:  8,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Lease <= 0 {
		c.Lease = defaults.Lease
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaults.RetryBase
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	return c
}
