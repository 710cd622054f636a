package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chronodrive.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "/var/lib/chronodrive/state.db"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/chronodrive/state.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Runner.RetryMaxAttempts)
	assert.Equal(t, time.Second, cfg.Runner.RetryInitialDelay())
	assert.Equal(t, time.Minute, cfg.Runner.BreakerResetTimeout())
	assert.Equal(t, time.Second, cfg.Scheduler.TickerInterval())
	assert.Equal(t, "mappings.yaml", cfg.Mappings.Path)
}

func TestLoadFromFileOverrides(t *testing.T) {
	path := writeConfig(t, `
[runner]
retry_max_attempts = 5
breaker_threshold = 10
actions_per_minute = 6.0

[scheduler]
ticker_interval_seconds = 30

[server]
port = 9000
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Runner.RetryMaxAttempts)
	assert.Equal(t, 10, cfg.Runner.BreakerThreshold)
	assert.Equal(t, 6.0, cfg.Runner.ActionsPerMinute)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickerInterval())
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
[runner]
breaker_threshold = -1
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "breaker_threshold")
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: DefaultServerPort},
			Runner:    RunnerConfig{RetryMaxAttempts: 3, RetryInitialDelayMS: 1000, RetryBackoffMultiplier: 2, BreakerThreshold: 5, BreakerResetTimeoutSeconds: 60},
			Scheduler: SchedulerConfig{TickerIntervalSeconds: 1},
			Mappings:  MappingsConfig{Path: "mappings.yaml"},
		}
	}

	require.NoError(t, Validate(base()))

	c := base()
	c.Server.Port = 0
	assert.Error(t, Validate(c))

	c = base()
	c.Runner.RetryBackoffMultiplier = 0.5
	assert.Error(t, Validate(c))

	c = base()
	c.Runner.ActionsPerMinute = -1
	assert.Error(t, Validate(c))

	c = base()
	c.Scheduler.TickerIntervalSeconds = 0
	assert.Error(t, Validate(c))

	c = base()
	c.Mappings.Path = ""
	assert.Error(t, Validate(c))
}
