package config

import "github.com/veligo/chronodrive/errors"

// Validate checks that the configuration is usable.
func Validate(c *Config) error {
	if c.Server.Port <= 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	if c.Runner.RetryMaxAttempts < 0 {
		return errors.Newf("runner.retry_max_attempts must be >= 0, got %d", c.Runner.RetryMaxAttempts)
	}
	if c.Runner.RetryInitialDelayMS < 0 {
		return errors.Newf("runner.retry_initial_delay_ms must be >= 0, got %d", c.Runner.RetryInitialDelayMS)
	}
	if c.Runner.RetryBackoffMultiplier < 1 {
		return errors.Newf("runner.retry_backoff_multiplier must be >= 1, got %v", c.Runner.RetryBackoffMultiplier)
	}
	if c.Runner.BreakerThreshold <= 0 {
		return errors.Newf("runner.breaker_threshold must be > 0, got %d", c.Runner.BreakerThreshold)
	}
	if c.Runner.BreakerResetTimeoutSeconds <= 0 {
		return errors.Newf("runner.breaker_reset_timeout_seconds must be > 0, got %d", c.Runner.BreakerResetTimeoutSeconds)
	}

	// 0 disables pacing, negative makes no sense.
	if c.Runner.ActionsPerMinute < 0 {
		return errors.Newf("runner.actions_per_minute must be >= 0, got %v", c.Runner.ActionsPerMinute)
	}

	if c.Scheduler.TickerIntervalSeconds <= 0 {
		return errors.Newf("scheduler.ticker_interval_seconds must be > 0, got %d", c.Scheduler.TickerIntervalSeconds)
	}

	if c.Mappings.Path == "" {
		return errors.New("mappings.path cannot be empty")
	}
	return nil
}
