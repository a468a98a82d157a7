// Package scheduler drives a tracking run: it decides which targets are due,
// checks them one at a time, paces requests with adaptive backoff, and stops
// early when the remote service keeps blocking.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/account-tracker/internal/classifier"
	"github.com/JakeFAU/account-tracker/internal/metrics"
	"github.com/JakeFAU/account-tracker/internal/runlog"
	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// Classifier maps fetched pages onto statuses.
type Classifier interface {
	Classify(page tracker.Page) classifier.Result
}

// Recorder appends executed checks to the window log.
type Recorder interface {
	Append(rec tracker.CheckRecord) error
}

// Outcome describes how a run ended.
type Outcome string

// Run outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeEmpty     Outcome = "empty"
)

// Plan is the input of one run.
type Plan struct {
	RunID    string
	Window   string
	Targets  []tracker.Target
	State    runlog.RunState
	Recorder Recorder
}

// Summary reports what a run did.
type Summary struct {
	RunID       string                 `json:"run_id"`
	Window      string                 `json:"window"`
	Outcome     Outcome                `json:"outcome"`
	Targets     int                    `json:"targets"`
	Executed    int                    `json:"executed"`
	Skipped     int                    `json:"skipped"`
	Statuses    map[tracker.Status]int `json:"statuses"`
	Backoff     BackoffState           `json:"backoff"`
	AbortReason string                 `json:"abort_reason,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithBlobStore persists page captures to blobs.
func WithBlobStore(blobs tracker.BlobStore) Option {
	return func(s *Scheduler) {
		s.blobs = blobs
	}
}

// WithSinks mirrors every appended record to sinks.
func WithSinks(sinks ...tracker.RecordSink) Option {
	return func(s *Scheduler) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// Scheduler executes plans sequentially.
type Scheduler struct {
	cfg        Config
	fetcher    tracker.PageFetcher
	classifier Classifier
	clock      tracker.Clock
	logger     *zap.Logger
	blobs      tracker.BlobStore
	sinks      []tracker.RecordSink
	pauser     pauseController
	jitter     jitterSource
}

// New validates cfg and assembles a Scheduler.
func New(
	cfg Config,
	fetcher tracker.PageFetcher,
	cls Classifier,
	clock tracker.Clock,
	logger *zap.Logger,
	opts ...Option,
) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.New("scheduler: page fetcher is required")
	}
	if cls == nil {
		return nil, errors.New("scheduler: classifier is required")
	}
	if clock == nil {
		return nil, errors.New("scheduler: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:        cfg,
		fetcher:    fetcher,
		classifier: cls,
		clock:      clock,
		logger:     logger.Named("scheduler"),
		pauser:     timerPauseController{},
		jitter:     cryptoJitter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run checks every due target in plan order. It returns a nil error for
// completed, aborted, and empty runs; a canceled run returns the context
// error, and a failed append is returned as is. Records appended before the
// run ended stay valid in every case.
func (s *Scheduler) Run(ctx context.Context, plan Plan) (Summary, error) {
	sum := Summary{
		RunID:     plan.RunID,
		Window:    plan.Window,
		Targets:   len(plan.Targets),
		Statuses:  make(map[tracker.Status]int),
		Backoff:   InitialBackoff(),
		StartedAt: s.clock.Now(),
	}
	logger := s.logger.With(zap.String("run_id", plan.RunID), zap.String("window", plan.Window))

	if len(plan.Targets) == 0 {
		logger.Warn("No targets to check; nothing to do")
		return s.finish(logger, sum, OutcomeEmpty), nil
	}
	if plan.Recorder == nil {
		return sum, errors.New("scheduler: plan recorder is required")
	}

	logger.Info("Run started",
		zap.Int("targets", len(plan.Targets)),
		zap.Int("known_targets", plan.State.Len()),
	)

	var pending time.Duration
	for _, target := range plan.Targets {
		if err := ctx.Err(); err != nil {
			return s.finish(logger, sum, OutcomeCanceled), err
		}

		now := s.clock.Now()
		if last, ok := plan.State.LastChecked(target); ok && now.Sub(last) < s.cfg.FreshnessWindow {
			sum.Skipped++
			metrics.ObserveSkip()
			logger.Debug("Skipping fresh target",
				zap.String("target", target.String()),
				zap.Duration("age", now.Sub(last)),
			)
			continue
		}

		if pending > 0 {
			metrics.ObservePause(pending)
			logger.Debug("Pausing before next check", zap.Duration("delay", pending))
			s.pauser.Pause(ctx, pending)
			pending = 0
			if err := ctx.Err(); err != nil {
				return s.finish(logger, sum, OutcomeCanceled), err
			}
		}

		started := s.clock.Now()
		rec, err := s.check(ctx, plan.Window, target)
		if err != nil {
			return s.finish(logger, sum, OutcomeCanceled), err
		}
		if err := plan.Recorder.Append(rec); err != nil {
			sum.FinishedAt = s.clock.Now()
			return sum, fmt.Errorf("append record for %s: %w", target, err)
		}
		plan.State.Observe(rec.Target, rec.Timestamp)
		s.mirror(ctx, rec)

		sum.Executed++
		sum.Statuses[rec.Status]++
		sum.Backoff = sum.Backoff.Next(rec.Blocking(), s.cfg.BackoffCap)
		metrics.ObserveCheck(string(rec.Status))
		metrics.SetBackoff(sum.Backoff.Multiplier, sum.Backoff.ConsecutiveFailures)

		logger.Info("Check recorded",
			zap.String("target", target.String()),
			zap.String("status", string(rec.Status)),
			zap.String("error", rec.Error),
			zap.Float64("backoff", sum.Backoff.Multiplier),
			zap.Int("consecutive_failures", sum.Backoff.ConsecutiveFailures),
		)

		if sum.Backoff.Tripped(s.cfg.FailureThreshold) {
			sum.AbortReason = fmt.Sprintf("%d consecutive blocking failures", sum.Backoff.ConsecutiveFailures)
			logger.Warn("Aborting run; remote service keeps blocking",
				zap.String("reason", sum.AbortReason),
				zap.Int("remaining", len(plan.Targets)-sum.Executed-sum.Skipped),
			)
			return s.finish(logger, sum, OutcomeAborted), nil
		}

		base := s.jitter.Between(s.cfg.MinDelay, s.cfg.MaxDelay)
		pending = pacingDelay(base, sum.Backoff.Multiplier, s.clock.Now().Sub(started))
	}

	return s.finish(logger, sum, OutcomeCompleted), nil
}

func (s *Scheduler) finish(logger *zap.Logger, sum Summary, outcome Outcome) Summary {
	sum.Outcome = outcome
	sum.FinishedAt = s.clock.Now()
	metrics.ObserveRun(string(outcome))
	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.Int("executed", sum.Executed),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("duration", sum.FinishedAt.Sub(sum.StartedAt)),
	}
	for _, status := range tracker.AllStatuses {
		if n := sum.Statuses[status]; n > 0 {
			fields = append(fields, zap.Int(string(status), n))
		}
	}
	logger.Info("Run finished", fields...)
	return sum
}

type fetchResult struct {
	page tracker.Page
	err  error
}

// check runs one fetch+classify cycle. Fetch failures become records; only
// cancellation of ctx itself is returned as an error.
func (s *Scheduler) check(ctx context.Context, window string, target tracker.Target) (tracker.CheckRecord, error) {
	url := target.URL(s.cfg.BaseURL)
	rec := tracker.CheckRecord{
		Timestamp: s.clock.Now(),
		Target:    target,
		URL:       url,
	}

	page, err := s.fetch(ctx, tracker.FetchRequest{
		URL:     url,
		Capture: s.cfg.CaptureScreenshots && s.blobs != nil,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, ctxErr
		}
		rec.Status = tracker.StatusUnknown
		rec.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			rec.Error = tracker.ErrorTimeout
		}
		return rec, nil
	}

	s.logger.Debug("Page fetched",
		zap.String("target", target.String()),
		zap.Int("status_code", page.StatusCode),
		zap.String("final_url", page.FinalURL),
		zap.Int("bytes", len(page.HTML)),
	)
	res := s.classifier.Classify(page)
	rec.Status = res.Status
	rec.PostCount = res.PostCount
	rec.Visible = res.Visible
	rec.Bio = res.Bio
	rec.Error = res.Error

	if len(page.Screenshot) > 0 && rec.Status != tracker.StatusLoginRequired && rec.Status != tracker.StatusUnknown {
		rec.Screenshot = s.saveCapture(ctx, window, rec, page.Screenshot)
	}
	return rec, nil
}

// fetch bounds the fetcher by FetchTimeout even if it ignores its context.
func (s *Scheduler) fetch(ctx context.Context, req tracker.FetchRequest) (tracker.Page, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	start := s.clock.Now()
	done := make(chan fetchResult, 1)
	go func() {
		page, err := s.fetcher.Fetch(fetchCtx, req)
		done <- fetchResult{page: page, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-fetchCtx.Done():
		res = fetchResult{err: fetchCtx.Err()}
	}
	metrics.ObserveFetch(s.clock.Now().Sub(start))
	if res.err != nil {
		return tracker.Page{}, fmt.Errorf("fetch %s: %w", req.URL, res.err)
	}
	return res.page, nil
}

func (s *Scheduler) saveCapture(ctx context.Context, window string, rec tracker.CheckRecord, png []byte) string {
	if s.blobs == nil {
		return ""
	}
	key := runlog.ScreenshotKey(window, rec.Target, rec.Timestamp)
	uri, err := s.blobs.PutObject(ctx, key, "image/png", bytes.NewReader(png))
	if err != nil {
		s.logger.Warn("Failed to store capture",
			zap.String("target", rec.Target.String()),
			zap.String("path", key),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

func (s *Scheduler) mirror(ctx context.Context, rec tracker.CheckRecord) {
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, rec); err != nil {
			s.logger.Warn("Record sink failed",
				zap.String("target", rec.Target.String()),
				zap.Error(err),
			)
		}
	}
}
