package config

import "github.com/spf13/viper"

// Default server port, above the privileged range and easy to remember.
const DefaultServerPort = 8742

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "chronodrive.db")

	// Mappings defaults
	v.SetDefault("mappings.path", "mappings.yaml")

	// Batch defaults
	v.SetDefault("batch.path", "batch.csv")

	// Runner defaults
	v.SetDefault("runner.retry_max_attempts", 3)
	v.SetDefault("runner.retry_initial_delay_ms", 1000)
	v.SetDefault("runner.retry_backoff_multiplier", 2.0)
	v.SetDefault("runner.breaker_threshold", 5)
	v.SetDefault("runner.breaker_reset_timeout_seconds", 60)
	v.SetDefault("runner.actions_per_minute", 20.0) // human-paced entry rate

	// Scheduler defaults
	v.SetDefault("scheduler.ticker_interval_seconds", 1)

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
}

// BindSensitiveEnvVars explicitly binds credentials to environment
// variables so they never need to live in config files.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("portal.username", "CHRONODRIVE_PORTAL_USERNAME")
	v.BindEnv("portal.password", "CHRONODRIVE_PORTAL_PASSWORD")
}
