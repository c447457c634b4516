package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// MinPeriod is the shortest period accepted for periodic work.
	MinPeriod time.Duration `yaml:"min_period"`
	// MaxAttempts bounds how many times a retrying run is attempted per period.
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffInitial is the first retry delay.
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `yaml:"backoff_max"`
	// LockTTL is how long a run holds its named lease.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		MinPeriod:      15 * time.Minute,
		MaxAttempts:    5,
		BackoffInitial: 30 * time.Second,
		BackoffMax:     10 * time.Minute,
		LockTTL:        10 * time.Minute,
	}
}

// clampPeriod raises period to the configured minimum.
func (c *Config) clampPeriod(period time.Duration) time.Duration {
	if period < c.MinPeriod {
		return c.MinPeriod
	}
	return period
}

func (c *Config) maxAttempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}
