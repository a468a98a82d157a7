// Package metrics exposes Prometheus collectors for the account tracker.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	trackerChecksTotal          *prometheus.CounterVec
	trackerSkipsTotal           prometheus.Counter
	trackerRunsTotal            *prometheus.CounterVec
	trackerFetchDurationSeconds prometheus.Histogram
	trackerPauseSeconds         prometheus.Histogram
	trackerBackoffMultiplier    prometheus.Gauge
	trackerConsecutiveFailures  prometheus.Gauge
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		trackerChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_checks_total",
				Help: "Total number of executed account checks, labeled by status.",
			},
			[]string{"status"},
		)

		trackerSkipsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_skips_total",
				Help: "Total number of targets skipped because a fresh check exists.",
			},
		)

		trackerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_runs_total",
				Help: "Total number of scheduler runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		trackerFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tracker_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
		)

		trackerPauseSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tracker_pause_seconds",
				Help:    "Histogram of pacing delays between checks.",
				Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200},
			},
		)

		trackerBackoffMultiplier = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_backoff_multiplier",
				Help: "Current pacing backoff multiplier.",
			},
		)

		trackerConsecutiveFailures = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_consecutive_failures",
				Help: "Current number of consecutive blocking failures.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCheck increments the check counter for the given status.
func ObserveCheck(status string) {
	Init()
	trackerChecksTotal.WithLabelValues(status).Inc()
}

// ObserveSkip increments the skip counter.
func ObserveSkip() {
	Init()
	trackerSkipsTotal.Inc()
}

// ObserveRun increments the run counter for the given outcome.
func ObserveRun(outcome string) {
	Init()
	trackerRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the duration of a page fetch.
func ObserveFetch(duration time.Duration) {
	Init()
	trackerFetchDurationSeconds.Observe(duration.Seconds())
}

// ObservePause records a pacing delay.
func ObservePause(duration time.Duration) {
	Init()
	trackerPauseSeconds.Observe(duration.Seconds())
}

// SetBackoff publishes the current backoff state.
func SetBackoff(multiplier float64, consecutiveFailures int) {
	Init()
	trackerBackoffMultiplier.Set(multiplier)
	trackerConsecutiveFailures.Set(float64(consecutiveFailures))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
