// Package config loads and validates tracker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/account-tracker/internal/classifier"
	"github.com/JakeFAU/account-tracker/internal/logging"
	"github.com/JakeFAU/account-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/account-tracker/internal/scheduler"
	"github.com/JakeFAU/account-tracker/internal/storage/gcs"
	"github.com/JakeFAU/account-tracker/internal/storage/postgres"
)

// EnvPrefix is prepended to every environment override, e.g. TRACKER_TRACKER_DATA_DIR.
const EnvPrefix = "TRACKER"

// Fetcher backends.
const (
	FetcherHeadless = "headless"
	FetcherHTTP     = "http"
)

// Storage backends for screenshots.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
	StorageNone  = "none"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Tracker    TrackerConfig     `mapstructure:"tracker"`
	Scheduler  scheduler.Config  `mapstructure:"scheduler"`
	Fetcher    FetcherConfig     `mapstructure:"fetcher"`
	Classifier classifier.Config `mapstructure:"classifier"`
	Storage    StorageConfig     `mapstructure:"storage"`
	DB         postgres.Config   `mapstructure:"db"`
	PubSub     pubsub.Config     `mapstructure:"pubsub"`
	Server     ServerConfig      `mapstructure:"server"`
	Logging    logging.Config    `mapstructure:"logging"`
}

// TrackerConfig locates inputs and outputs.
type TrackerConfig struct {
	DataDir       string        `mapstructure:"data_dir"`
	TargetsFile   string        `mapstructure:"targets_file"`
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// FetcherConfig selects and tunes the page fetcher.
type FetcherConfig struct {
	Backend           string        `mapstructure:"backend"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	ViewportWidth     int64         `mapstructure:"viewport_width"`
	ViewportHeight    int64         `mapstructure:"viewport_height"`
	MaxQPS            float64       `mapstructure:"max_qps"`
	ExecPath          string        `mapstructure:"exec_path"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
}

// StorageConfig selects where screenshots go. The local backend writes under
// Tracker.DataDir.
type StorageConfig struct {
	Backend string     `mapstructure:"backend"`
	GCS     gcs.Config `mapstructure:"gcs"`
}

// ServerConfig controls the status server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tracker.data_dir", "data")
	v.SetDefault("tracker.targets_file", "USSTATE.csv")
	v.SetDefault("tracker.watch_interval", 2*time.Minute)

	sched := scheduler.DefaultConfig()
	v.SetDefault("scheduler.base_url", sched.BaseURL)
	v.SetDefault("scheduler.freshness_window", sched.FreshnessWindow)
	v.SetDefault("scheduler.min_delay", sched.MinDelay)
	v.SetDefault("scheduler.max_delay", sched.MaxDelay)
	v.SetDefault("scheduler.backoff_cap", sched.BackoffCap)
	v.SetDefault("scheduler.failure_threshold", sched.FailureThreshold)
	v.SetDefault("scheduler.fetch_timeout", sched.FetchTimeout)
	v.SetDefault("scheduler.capture_screenshots", sched.CaptureScreenshots)

	v.SetDefault("fetcher.backend", FetcherHeadless)
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.navigation_timeout", 30*time.Second)
	v.SetDefault("fetcher.settle_delay", 3500*time.Millisecond)
	v.SetDefault("fetcher.viewport_width", 1280)
	v.SetDefault("fetcher.viewport_height", 1400)
	v.SetDefault("fetcher.max_qps", 0)
	v.SetDefault("fetcher.exec_path", "")
	v.SetDefault("fetcher.respect_robots", false)

	cls := classifier.DefaultConfig()
	v.SetDefault("classifier.login_selector", cls.LoginSelector)
	v.SetDefault("classifier.login_title_markers", cls.LoginTitleMarkers)
	v.SetDefault("classifier.login_text_markers", cls.LoginTextMarkers)
	v.SetDefault("classifier.login_path_markers", cls.LoginPathMarkers)
	v.SetDefault("classifier.bio_selector", cls.BioSelector)
	v.SetDefault("classifier.content_item_selector", cls.ContentItemSelector)

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", postgres.DefaultTable)
	v.SetDefault("db.max_conns", 2)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("server.port", 0)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Tracker.DataDir) == "" {
		return fmt.Errorf("tracker.data_dir is required")
	}
	if strings.TrimSpace(c.Tracker.TargetsFile) == "" {
		return fmt.Errorf("tracker.targets_file is required")
	}
	if c.Tracker.WatchInterval <= 0 {
		return fmt.Errorf("tracker.watch_interval must be > 0")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	switch c.Fetcher.Backend {
	case FetcherHeadless, FetcherHTTP:
	default:
		return fmt.Errorf("fetcher.backend must be %q or %q, got %q", FetcherHeadless, FetcherHTTP, c.Fetcher.Backend)
	}
	if c.Fetcher.MaxQPS < 0 {
		return fmt.Errorf("fetcher.max_qps must be >= 0")
	}
	switch c.Storage.Backend {
	case StorageLocal, StorageNone:
	case StorageGCS:
		if strings.TrimSpace(c.Storage.GCS.Bucket) == "" {
			return fmt.Errorf("storage.gcs.bucket is required when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, none, got %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	return nil
}
