package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/account-tracker/internal/scheduler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.Tracker.DataDir)
	assert.Equal(t, "USSTATE.csv", cfg.Tracker.TargetsFile)
	assert.Equal(t, 2*time.Minute, cfg.Tracker.WatchInterval)
	assert.Equal(t, scheduler.DefaultConfig(), cfg.Scheduler)
	assert.Equal(t, FetcherHeadless, cfg.Fetcher.Backend)
	assert.Equal(t, 3500*time.Millisecond, cfg.Fetcher.SettleDelay)
	assert.Equal(t, StorageLocal, cfg.Storage.Backend)
	assert.Equal(t, "account_checks", cfg.DB.Table)
	assert.Equal(t, `[data-testid="UserDescription"]`, cfg.Classifier.BioSelector)
	assert.Zero(t, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
tracker:
  data_dir: /var/lib/tracker
  targets_file: handles.xlsx
  watch_interval: 5m
scheduler:
  freshness_window: 6h
  min_delay: 1s
  max_delay: 2s
  failure_threshold: 3
fetcher:
  backend: http
  user_agent: tracker-bot
storage:
  backend: gcs
  gcs:
    bucket: shots
    prefix: tracker
pubsub:
  project_id: proj
  topic: checks
server:
  port: 9090
logging:
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tracker", cfg.Tracker.DataDir)
	assert.Equal(t, 5*time.Minute, cfg.Tracker.WatchInterval)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.FreshnessWindow)
	assert.Equal(t, time.Second, cfg.Scheduler.MinDelay)
	assert.Equal(t, 3, cfg.Scheduler.FailureThreshold)
	assert.Equal(t, scheduler.DefaultBackoffCap, cfg.Scheduler.BackoffCap)
	assert.Equal(t, FetcherHTTP, cfg.Fetcher.Backend)
	assert.Equal(t, "tracker-bot", cfg.Fetcher.UserAgent)
	assert.Equal(t, "shots", cfg.Storage.GCS.Bucket)
	assert.True(t, cfg.PubSub.Enabled())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRACKER_TRACKER_DATA_DIR", "/tmp/env-data")
	t.Setenv("TRACKER_SCHEDULER_FAILURE_THRESHOLD", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-data", cfg.Tracker.DataDir)
	assert.Equal(t, 7, cfg.Scheduler.FailureThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty data dir", mutate: func(c *Config) { c.Tracker.DataDir = " " }},
		{name: "zero watch interval", mutate: func(c *Config) { c.Tracker.WatchInterval = 0 }},
		{name: "bad scheduler", mutate: func(c *Config) { c.Scheduler.MaxDelay = time.Second }},
		{name: "bad fetcher backend", mutate: func(c *Config) { c.Fetcher.Backend = "lynx" }},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.Topic = "t" }},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	errCfg := valid
	errCfg.Scheduler.FailureThreshold = 0
	assert.ErrorIs(t, errCfg.Validate(), scheduler.ErrInvalidConfig)
}
