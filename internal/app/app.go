// Package app assembles the tracker from configuration and drives runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/account-tracker/internal/api"
	"github.com/JakeFAU/account-tracker/internal/classifier"
	"github.com/JakeFAU/account-tracker/internal/clock/system"
	"github.com/JakeFAU/account-tracker/internal/config"
	collyfetcher "github.com/JakeFAU/account-tracker/internal/fetcher/colly"
	"github.com/JakeFAU/account-tracker/internal/fetcher/headless"
	"github.com/JakeFAU/account-tracker/internal/id/uuid"
	"github.com/JakeFAU/account-tracker/internal/metrics"
	gcppublisher "github.com/JakeFAU/account-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/account-tracker/internal/runlog"
	"github.com/JakeFAU/account-tracker/internal/scheduler"
	gcsstorage "github.com/JakeFAU/account-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/account-tracker/internal/storage/local"
	pgstore "github.com/JakeFAU/account-tracker/internal/storage/postgres"
	"github.com/JakeFAU/account-tracker/internal/targets"
	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// Option overrides a collaborator that New would otherwise build from config.
type Option func(*deps)

type deps struct {
	fetcher tracker.PageFetcher
	clock   tracker.Clock
	ids     tracker.IDGenerator
	blobs   tracker.BlobStore
	sinks   []tracker.RecordSink
}

// WithFetcher replaces the configured fetcher backend.
func WithFetcher(f tracker.PageFetcher) Option {
	return func(d *deps) { d.fetcher = f }
}

// WithClock replaces the wall clock.
func WithClock(c tracker.Clock) Option {
	return func(d *deps) { d.clock = c }
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(g tracker.IDGenerator) Option {
	return func(d *deps) { d.ids = g }
}

// WithBlobStore replaces the configured screenshot store.
func WithBlobStore(b tracker.BlobStore) Option {
	return func(d *deps) { d.blobs = b }
}

// WithSinks adds record sinks next to the configured ones.
func WithSinks(sinks ...tracker.RecordSink) Option {
	return func(d *deps) { d.sinks = append(d.sinks, sinks...) }
}

// App holds the long-lived collaborators of the tracker.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	sched   *scheduler.Scheduler
	clock   tracker.Clock
	ids     tracker.IDGenerator
	closers []func()

	mu      sync.RWMutex
	last    *scheduler.Summary
	started atomic.Bool
}

// New builds every collaborator named by cfg. Resources opened before a
// failure are released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	var d deps
	for _, opt := range opts {
		opt(&d)
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  d.clock,
		ids:    d.ids,
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.ids == nil {
		a.ids = uuid.New()
	}

	if err := a.build(ctx, d); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, d deps) error {
	fetcher := d.fetcher
	if fetcher == nil {
		var err error
		if fetcher, err = a.setupFetcher(); err != nil {
			return err
		}
	}

	blobs := d.blobs
	if blobs == nil && a.cfg.Scheduler.CaptureScreenshots {
		var err error
		if blobs, err = a.setupStorage(ctx); err != nil {
			return err
		}
	}

	sinks, err := a.setupSinks(ctx)
	if err != nil {
		return err
	}
	sinks = append(sinks, d.sinks...)

	schedOpts := []scheduler.Option{scheduler.WithSinks(sinks...)}
	if blobs != nil {
		schedOpts = append(schedOpts, scheduler.WithBlobStore(blobs))
	}
	a.sched, err = scheduler.New(
		a.cfg.Scheduler,
		fetcher,
		classifier.New(a.cfg.Classifier),
		a.clock,
		a.logger,
		schedOpts...,
	)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	return nil
}

func (a *App) setupFetcher() (tracker.PageFetcher, error) {
	fc := a.cfg.Fetcher
	switch fc.Backend {
	case config.FetcherHTTP:
		a.logger.Info("Using static HTTP fetcher")
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     fc.UserAgent,
			RespectRobots: fc.RespectRobots,
			Timeout:       fc.NavigationTimeout,
			MaxQPS:        fc.MaxQPS,
		}, a.logger), nil
	default:
		f, err := headless.NewChromedp(headless.Config{
			UserAgent:         fc.UserAgent,
			NavigationTimeout: fc.NavigationTimeout,
			SettleDelay:       fc.SettleDelay,
			ViewportWidth:     fc.ViewportWidth,
			ViewportHeight:    fc.ViewportHeight,
			MaxQPS:            fc.MaxQPS,
			ExecPath:          fc.ExecPath,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		a.logger.Info("Using headless fetcher",
			zap.Duration("settle_delay", fc.SettleDelay),
			zap.Int64("viewport_width", fc.ViewportWidth),
		)
		return f, nil
	}
}

func (a *App) setupStorage(ctx context.Context) (tracker.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageNone:
		a.logger.Info("Screenshot storage disabled")
		return nil, nil
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("GCS client close failed", zap.Error(err))
			}
		})
		store, err := gcsstorage.New(client, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs storage init failed: %w", err)
		}
		a.logger.Info("Using GCS screenshot storage", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return store, nil
	default:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Tracker.DataDir})
		if err != nil {
			return nil, fmt.Errorf("local storage init failed: %w", err)
		}
		a.logger.Info("Using local screenshot storage", zap.String("dir", a.cfg.Tracker.DataDir))
		return store, nil
	}
}

func (a *App) setupSinks(ctx context.Context) ([]tracker.RecordSink, error) {
	var sinks []tracker.RecordSink
	if a.cfg.DB.DSN != "" {
		checkStore, err := pgstore.NewCheckStore(ctx, a.cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("check store init failed: %w", err)
		}
		a.closers = append(a.closers, checkStore.Close)
		sinks = append(sinks, checkStore)
		a.logger.Info("Mirroring checks to Postgres", zap.String("table", a.cfg.DB.Table))
	}
	if a.cfg.PubSub.Enabled() {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		pub := gcppublisher.New(client.Topic(a.cfg.PubSub.Topic))
		a.closers = append(a.closers, func() {
			pub.Stop()
			if err := client.Close(); err != nil {
				a.logger.Warn("Pub/Sub client close failed", zap.Error(err))
			}
		})
		sinks = append(sinks, pub)
		a.logger.Info("Publishing checks to Pub/Sub",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}
	return sinks, nil
}

// RunOnce performs a single pass over the target list for the current window.
func (a *App) RunOnce(ctx context.Context) (scheduler.Summary, error) {
	a.started.Store(true)

	list, err := targets.Load(a.cfg.Tracker.TargetsFile)
	if err != nil {
		return scheduler.Summary{}, fmt.Errorf("load targets: %w", err)
	}
	window := runlog.WindowFor(a.clock.Now())
	path := runlog.LogPath(a.cfg.Tracker.DataDir, window)
	state, err := runlog.LoadRunState(path)
	if err != nil {
		return scheduler.Summary{}, fmt.Errorf("load run state: %w", err)
	}
	recorder, err := runlog.NewRecorder(path)
	if err != nil {
		return scheduler.Summary{}, err
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return scheduler.Summary{}, fmt.Errorf("generate run id: %w", err)
	}

	a.logger.Info("Starting pass",
		zap.String("targets_file", a.cfg.Tracker.TargetsFile),
		zap.Int("targets", len(list)),
		zap.String("log", path),
	)
	sum, err := a.sched.Run(ctx, scheduler.Plan{
		RunID:    runID,
		Window:   window,
		Targets:  list,
		State:    state,
		Recorder: recorder,
	})
	a.mu.Lock()
	a.last = &sum
	a.mu.Unlock()
	return sum, err
}

// Watch repeats RunOnce every Tracker.WatchInterval until ctx ends. When
// Server.Port is set the status server runs for the duration. Only failures
// other than cancellation are returned.
func (a *App) Watch(ctx context.Context) error {
	stopServer := a.startServer(ctx)
	defer stopServer()

	interval := a.cfg.Tracker.WatchInterval
	for {
		sum, err := a.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.logger.Info("Watch stopped")
				return nil
			}
			return err
		}
		if sum.Outcome == scheduler.OutcomeAborted {
			a.logger.Warn("Pass aborted; waiting for next interval", zap.String("reason", sum.AbortReason))
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("Watch stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (a *App) startServer(ctx context.Context) func() {
	if a.cfg.Server.Port == 0 {
		return func() {}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           api.NewServer(a, a.logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("Status server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Status server shutdown error", zap.Error(err))
		}
	}
}

// LastSummary returns the summary of the most recent pass.
func (a *App) LastSummary() (scheduler.Summary, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return scheduler.Summary{}, false
	}
	return *a.last, true
}

// Ready reports whether the first pass has started.
func (a *App) Ready() bool {
	return a.started.Load()
}

// Close releases external resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
