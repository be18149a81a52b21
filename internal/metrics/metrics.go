// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal            *prometheus.CounterVec
	crawlerBytesTotal            *prometheus.CounterVec
	crawlerJobsTotal             *prometheus.CounterVec
	crawlerDedupResultsTotal     *prometheus.CounterVec
	crawlerRenderTimeoutsTotal   prometheus.Counter
	crawlerRenderErrorsTotal     prometheus.Counter
	crawlerRenderDurationSeconds prometheus.Histogram
	crawlerActiveWorkers         prometheus.Gauge
	crawlerRateLimitDelaySeconds *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of job transitions, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerDedupResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_dedup_results_total",
				Help: "Deduplication classifications, labeled by duplicate type.",
			},
			[]string{"type"},
		)

		crawlerRenderTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_render_timeouts_total",
				Help: "Renders that exhausted their navigation timeout budget.",
			},
		)

		crawlerRenderErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_render_errors_total",
				Help: "Renders that failed for browser-level reasons.",
			},
		)

		crawlerRenderDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_render_duration_seconds",
				Help:    "Histogram of successful render durations.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a URL.",
			},
		)

		crawlerRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// RegisterBrowserPool exposes the pool's in-use tab count as a gauge.
func RegisterBrowserPool(inUse func() int) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crawler_browser_tabs_in_use",
			Help: "Number of browser tabs currently leased from the pool.",
		},
		func() float64 { return float64(inUse()) },
	)
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records a processed page by site and outcome
// (succeeded, failed, skipped, duplicate).
func ObservePage(site string, outcome string, bytesFetched int) {
	sanitized := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitized, outcome).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// ObserveDedup records a deduplication classification.
func ObserveDedup(duplicateType string) {
	crawlerDedupResultsTotal.WithLabelValues(duplicateType).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlerRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RenderObserver adapts the render package's observer callbacks onto
// the Prometheus collectors.
type RenderObserver struct{}

// RenderSucceeded records the duration of a successful render.
func (RenderObserver) RenderSucceeded(d time.Duration) {
	crawlerRenderDurationSeconds.Observe(d.Seconds())
}

// RenderTimedOut counts a render that exhausted its timeout budget.
func (RenderObserver) RenderTimedOut() {
	crawlerRenderTimeoutsTotal.Inc()
}

// RenderFailed counts a browser-level render failure.
func (RenderObserver) RenderFailed() {
	crawlerRenderErrorsTotal.Inc()
}
