package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/account-tracker/internal/config"
	"github.com/JakeFAU/account-tracker/internal/runlog"
	"github.com/JakeFAU/account-tracker/internal/scheduler"
	"github.com/JakeFAU/account-tracker/internal/tracker"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}

type pageFetcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *pageFetcher) Fetch(_ context.Context, req tracker.FetchRequest) (tracker.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	f.mu.Unlock()
	body := "<div>1,000 posts</div><article role=\"article\">hi</article>"
	if strings.HasSuffix(req.URL, "/GovB") {
		body = "<div>Account suspended</div>"
	}
	return tracker.Page{
		URL:  req.URL,
		HTML: []byte("<html><head><title>Profile</title></head><body>" + body + "</body></html>"),
	}, nil
}

func (f *pageFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig(t *testing.T, targetsBody string) config.Config {
	t.Helper()
	dir := t.TempDir()
	targetsFile := filepath.Join(dir, "USSTATE.csv")
	require.NoError(t, os.WriteFile(targetsFile, []byte(targetsBody), 0o600))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Tracker.DataDir = filepath.Join(dir, "data")
	cfg.Tracker.TargetsFile = targetsFile
	cfg.Tracker.WatchInterval = 10 * time.Millisecond
	cfg.Scheduler.MinDelay = 0
	cfg.Scheduler.MaxDelay = 0
	cfg.Scheduler.FetchTimeout = time.Second
	cfg.Storage.Backend = config.StorageNone
	return cfg
}

func TestRunOnceWritesLogAndIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "handle\n@GovA\nhttps://x.com/GovB\n")
	clock := &fixedClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &pageFetcher{}
	a, err := New(context.Background(), cfg, zap.NewNop(),
		WithFetcher(fetcher), WithClock(clock), WithIDGenerator(&seqIDs{}))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.False(t, a.Ready())
	_, ok := a.LastSummary()
	assert.False(t, ok)

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.OutcomeCompleted, sum.Outcome)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 2, sum.Executed)
	assert.Equal(t, 1, sum.Statuses[tracker.StatusSuspended])
	assert.True(t, a.Ready())

	records, err := runlog.ReadRecords(runlog.LogPath(cfg.Tracker.DataDir, "2025-03-01"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, tracker.Target("GovA"), records[0].Target)
	require.NotNil(t, records[0].PostCount)
	assert.EqualValues(t, 1000, *records[0].PostCount)

	clock.Set(clock.Now().Add(time.Hour))
	sum, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Executed)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 2, fetcher.Calls())

	last, ok := a.LastSummary()
	require.True(t, ok)
	assert.Equal(t, "run-2", last.RunID)
}

func TestRunOnceEmptyTargets(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Tracker.TargetsFile = filepath.Join(t.TempDir(), "missing.csv")
	a, err := New(context.Background(), cfg, nil, WithFetcher(&pageFetcher{}))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.OutcomeEmpty, sum.Outcome)
}

func TestRunOnceMirrorsToSinksAndStoresCaptures(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "GovA\n")
	cfg.Storage.Backend = config.StorageLocal
	var (
		mu  sync.Mutex
		got []tracker.CheckRecord
	)
	sink := sinkFunc(func(_ context.Context, rec tracker.CheckRecord) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, rec)
		return nil
	})
	a, err := New(context.Background(), cfg, nil, WithFetcher(&captureFetcher{}), WithSinks(sink))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.RunOnce(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.NotEmpty(t, got[0].Screenshot)
	assert.FileExists(t, got[0].Screenshot)
	assert.True(t, strings.HasPrefix(got[0].Screenshot, cfg.Tracker.DataDir))
}

func TestWatchStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "GovA\n")
	cfg.Scheduler.FreshnessWindow = 0
	fetcher := &pageFetcher{}
	a, err := New(context.Background(), cfg, nil, WithFetcher(fetcher))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx) }()

	require.Eventually(t, func() bool { return fetcher.Calls() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestNewRejectsInvalidScheduler(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "GovA\n")
	cfg.Scheduler.FailureThreshold = 0
	_, err := New(context.Background(), cfg, nil, WithFetcher(&pageFetcher{}))
	assert.ErrorIs(t, err, scheduler.ErrInvalidConfig)
}

type sinkFunc func(context.Context, tracker.CheckRecord) error

func (f sinkFunc) Record(ctx context.Context, rec tracker.CheckRecord) error { return f(ctx, rec) }

type captureFetcher struct{}

func (captureFetcher) Fetch(_ context.Context, req tracker.FetchRequest) (tracker.Page, error) {
	page := tracker.Page{
		URL:  req.URL,
		HTML: []byte("<html><body><div>12 posts</div></body></html>"),
	}
	if req.Capture {
		page.Screenshot = []byte("\x89PNG")
	}
	return page, nil
}
