package scheduler

import (
	"errors"
	"time"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int

	// StaleAfter is how long a started generation may sit open before the
	// stale sweep fails it.
	StaleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		BatchSize:   100,
		StaleAfter:  6 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaults.StaleAfter
	}
	return c
}
