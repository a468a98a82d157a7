// Package headless renders profile pages in headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/account-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// Defaults for Config.
const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSettleDelay       = 3500 * time.Millisecond
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 1400
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready so client-side
	// rendering can finish.
	SettleDelay    time.Duration
	ViewportWidth  int64
	ViewportHeight int64
	// MaxQPS caps requests per second per host; zero disables the cap.
	MaxQPS   float64
	ExecPath string
}

// Fetcher implements tracker.PageFetcher using chromedp and headless Chrome.
// Tabs are opened one at a time against a shared browser.
type Fetcher struct {
	cfg         Config
	slot        chan struct{}
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxQPS < 0 {
		return nil, fmt.Errorf("max qps must be >= 0")
	}
	if cfg.ViewportWidth < 0 || cfg.ViewportHeight < 0 {
		return nil, fmt.Errorf("viewport dimensions must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ViewportWidth == 0 {
		cfg.ViewportWidth = DefaultViewportWidth
	}
	if cfg.ViewportHeight == 0 {
		cfg.ViewportHeight = DefaultViewportHeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slot:        make(chan struct{}, 1),
		limiter:     ratelimit.New(ratelimit.Config{RPS: cfg.MaxQPS, Burst: 1}),
		logger:      logger.Named("headless"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to the URL, waits for the page to settle, and returns the
// rendered DOM. A requested capture that fails leaves Page.Screenshot empty.
func (f *Fetcher) Fetch(ctx context.Context, req tracker.FetchRequest) (tracker.Page, error) {
	if err := f.acquire(ctx); err != nil {
		return tracker.Page{}, err
	}
	defer f.release()

	if err := f.limiter.Wait(ctx, req.URL); err != nil {
		return tracker.Page{}, err
	}

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	stop := forwardCancel(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	page, err := f.render(taskCtx, req.URL)
	if err != nil {
		if ctx.Err() != nil {
			return tracker.Page{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		return tracker.Page{}, err
	}
	page.StatusCode = meta.statusOr(http.StatusOK)

	if req.Capture {
		page.Screenshot = f.capture(taskCtx, req.URL)
	}
	return page, nil
}

func (f *Fetcher) render(ctx context.Context, url string) (tracker.Page, error) {
	var (
		html     string
		title    string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.EmulateViewport(f.cfg.ViewportWidth, f.cfg.ViewportHeight),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return tracker.Page{}, fmt.Errorf("chromedp run: %w", err)
	}
	return tracker.Page{
		URL:      url,
		FinalURL: finalURL,
		Title:    title,
		HTML:     []byte(html),
	}, nil
}

// capture grabs the visible viewport, which bounds the image to the top of
// the profile.
func (f *Fetcher) capture(ctx context.Context, url string) []byte {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		f.logger.Warn("Screenshot capture failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	return buf
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	select {
	case f.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	select {
	case <-f.slot:
	default:
	}
}

// forwardCancel closes the browser tab when ctx ends. The returned func stops
// the forwarding.
func forwardCancel(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) statusOr(fallback int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == 0 {
		return fallback
	}
	return m.status
}
