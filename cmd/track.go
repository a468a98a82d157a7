package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/account-tracker/internal/app"
	"github.com/JakeFAU/account-tracker/internal/config"
	"github.com/JakeFAU/account-tracker/internal/scheduler"
)

// tracker is the part of *app.App the track command drives.
type tracker interface {
	RunOnce(ctx context.Context) (scheduler.Summary, error)
	Watch(ctx context.Context) error
	Close()
}

// newTracker is the application factory. It's a variable so tests can
// replace it.
var newTracker = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (tracker, error) {
	return app.New(ctx, cfg, logger)
}

func newTrackCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Checks every due account once",
		Long: `Loads the target list, skips accounts checked within the freshness window,
and checks the rest one at a time with randomized pacing. With --watch the pass
repeats every tracker.watch_interval until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrack(cmd.Context(), watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "repeat passes until interrupted")
	return cmd
}

func runTrack(ctx context.Context, watch bool) error {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	t, err := newTracker(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracker: %w", err)
	}
	defer t.Close()

	if watch {
		return t.Watch(ctx)
	}

	sum, err := t.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			rt.logger.Info("Run interrupted", zap.Int("executed", sum.Executed))
			return nil
		}
		return fmt.Errorf("run: %w", err)
	}
	rt.logger.Info("Track command finished",
		zap.String("outcome", string(sum.Outcome)),
		zap.Int("executed", sum.Executed),
		zap.Int("skipped", sum.Skipped),
	)
	return nil
}
