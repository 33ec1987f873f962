package retention

import "time"

// Config controls the usage retention worker loop.
type Config struct {
	RetentionDays int
	PollInterval  time.Duration
	Timezone      string
}

func DefaultConfig() Config {
	return Config{
		RetentionDays: 30,
		PollInterval:  time.Hour,
		Timezone:      "UTC",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RetentionDays <= 0 {
		c.RetentionDays = defaults.RetentionDays
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.Timezone == "" {
		c.Timezone = defaults.Timezone
	}
	return c
}
