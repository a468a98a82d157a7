package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("scheduler: invalid config")

// Defaults for Config.
const (
	DefaultFreshnessWindow  = 12 * time.Hour
	DefaultMinDelay         = 33 * time.Second
	DefaultMaxDelay         = 67 * time.Second
	DefaultBackoffCap       = 16.0
	DefaultFailureThreshold = 5
	DefaultFetchTimeout     = 45 * time.Second
	DefaultBaseURL          = "https://x.com/"

	// minPause is the floor applied to every computed pacing delay.
	minPause = time.Microsecond
)

// Config is the immutable tuning of a Scheduler.
type Config struct {
	BaseURL            string        `mapstructure:"base_url"`
	FreshnessWindow    time.Duration `mapstructure:"freshness_window"`
	MinDelay           time.Duration `mapstructure:"min_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	BackoffCap         float64       `mapstructure:"backoff_cap"`
	FailureThreshold   int           `mapstructure:"failure_threshold"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	CaptureScreenshots bool          `mapstructure:"capture_screenshots"`
}

// DefaultConfig returns the production pacing profile.
func DefaultConfig() Config {
	return Config{
		BaseURL:            DefaultBaseURL,
		FreshnessWindow:    DefaultFreshnessWindow,
		MinDelay:           DefaultMinDelay,
		MaxDelay:           DefaultMaxDelay,
		BackoffCap:         DefaultBackoffCap,
		FailureThreshold:   DefaultFailureThreshold,
		FetchTimeout:       DefaultFetchTimeout,
		CaptureScreenshots: true,
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.BaseURL) == "":
		return fmt.Errorf("%w: base_url is required", ErrInvalidConfig)
	case c.FreshnessWindow < 0:
		return fmt.Errorf("%w: freshness_window must be >= 0", ErrInvalidConfig)
	case c.MinDelay < 0:
		return fmt.Errorf("%w: min_delay must be >= 0", ErrInvalidConfig)
	case c.MaxDelay < c.MinDelay:
		return fmt.Errorf("%w: max_delay must be >= min_delay", ErrInvalidConfig)
	case c.BackoffCap < 1:
		return fmt.Errorf("%w: backoff_cap must be >= 1", ErrInvalidConfig)
	case c.FailureThreshold <= 0:
		return fmt.Errorf("%w: failure_threshold must be > 0", ErrInvalidConfig)
	case c.FetchTimeout <= 0:
		return fmt.Errorf("%w: fetch_timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}
