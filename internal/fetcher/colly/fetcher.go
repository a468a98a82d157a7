// Package collyfetcher implements a static tracker.PageFetcher using gocolly.
// It does not execute JavaScript and never produces captures.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/account-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxQPS        float64
}

// Fetcher implements tracker.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		limiter:       ratelimit.New(ratelimit.Config{RPS: cfg.MaxQPS, Burst: 1}),
		logger:        logger.Named("colly"),
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Error statuses are returned as pages so
// the classifier can inspect them.
func (f *Fetcher) Fetch(ctx context.Context, req tracker.FetchRequest) (tracker.Page, error) {
	if err := f.limiter.Wait(ctx, req.URL); err != nil {
		return tracker.Page{}, err
	}
	if req.Capture {
		f.logger.Debug("Static fetcher cannot capture screenshots", zap.String("url", req.URL))
	}

	var (
		page     tracker.Page
		fetchErr error
	)
	collector := f.buildCollector(&page, &fetchErr)
	if err := f.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return tracker.Page{}, err
	}
	page.URL = req.URL
	return page, nil
}

func (f *Fetcher) buildCollector(page *tracker.Page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.ParseHTTPErrorResponse = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	configureCollectorHooks(collector, page, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, page *tracker.Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		page.StatusCode = r.StatusCode
		page.HTML = append([]byte(nil), r.Body...)
		if r.Request != nil && r.Request.URL != nil {
			page.FinalURL = r.Request.URL.String()
		}
	})

	hooks.OnHTML("title", func(e *colly.HTMLElement) {
		if page.Title == "" {
			page.Title = strings.TrimSpace(e.Text)
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
