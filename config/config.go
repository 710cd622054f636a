// Package config loads chronodrive configuration with viper, merging
// system, user, and project TOML files under environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/veligo/chronodrive/errors"
)

// Config is the full chronodrive configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Mappings  MappingsConfig  `mapstructure:"mappings"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Portal    PortalConfig    `mapstructure:"portal"`
}

// BatchConfig locates the batch CSV consumed by scheduled runs.
type BatchConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the progress websocket server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RunnerConfig configures run resilience and pacing.
type RunnerConfig struct {
	RetryMaxAttempts           int     `mapstructure:"retry_max_attempts"`
	RetryInitialDelayMS        int     `mapstructure:"retry_initial_delay_ms"`
	RetryBackoffMultiplier     float64 `mapstructure:"retry_backoff_multiplier"`
	BreakerThreshold           int     `mapstructure:"breaker_threshold"`
	BreakerResetTimeoutSeconds int     `mapstructure:"breaker_reset_timeout_seconds"`
	ActionsPerMinute           float64 `mapstructure:"actions_per_minute"` // 0 = unpaced
}

// RetryInitialDelay returns the retry delay as a duration.
func (r RunnerConfig) RetryInitialDelay() time.Duration {
	return time.Duration(r.RetryInitialDelayMS) * time.Millisecond
}

// BreakerResetTimeout returns the breaker cooldown as a duration.
func (r RunnerConfig) BreakerResetTimeout() time.Duration {
	return time.Duration(r.BreakerResetTimeoutSeconds) * time.Second
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"`
}

// TickerInterval returns the tick interval as a duration.
func (s SchedulerConfig) TickerInterval() time.Duration {
	return time.Duration(s.TickerIntervalSeconds) * time.Second
}

// MappingsConfig locates the account/project mappings file.
type MappingsConfig struct {
	Path string `mapstructure:"path"`
}

// PortalConfig holds credentials for the target application. Username and
// password normally arrive via environment variables, not config files.
type PortalConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// File system constants.
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the chronodrive configuration using viper.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}

	globalConfig = &config
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetViper returns the viper instance for advanced configuration access.
func GetViper() *viper.Viper {
	return initViper()
}

// Reset clears the cached configuration. Used by tests and the reload
// watcher.
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes viper with configuration sources and defaults.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("CHRONODRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// ProjectConfigFile returns the chronodrive.toml the merged lookup would
// use, or "" when none exists. Callers wire it to a reload watcher.
func ProjectConfigFile() string {
	return findProjectConfig()
}

// findProjectConfig searches for chronodrive.toml by walking up the
// directory tree.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, "chronodrive.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// mergeConfigFiles merges configuration files in precedence order:
// system < user < project < env vars.
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	userDir := filepath.Join(homeDir, ".chronodrive")
	os.MkdirAll(userDir, DefaultDirPermissions)

	configPaths := []string{
		"/etc/chronodrive/config.toml",
		filepath.Join(userDir, "config.toml"),
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		configPaths = append(configPaths, projectConfig)
	}

	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		tempViper := viper.New()
		tempViper.SetConfigFile(configPath)
		tempViper.SetConfigType("toml")

		if err := tempViper.ReadInConfig(); err == nil {
			for key, value := range tempViper.AllSettings() {
				v.Set(key, value)
			}
		}
	}
}
