// Package metrics exposes Prometheus collectors for the newshub service.
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
	urlsDiscoveredTotal        *prometheus.CounterVec
	discoveryBytesTotal        *prometheus.CounterVec
	articlesProcessedTotal     *prometheus.CounterVec
	scrapingErrorsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter
	jobTransitionsTotal        *prometheus.CounterVec
	activeJobs                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call repeatedly; the Observe helpers call it themselves.
func Init() {
	once.Do(func() {
		urlsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newshub_urls_discovered_total",
				Help: "Candidate article URLs yielded by discovery, labeled by site and source.",
			},
			[]string{"site", "source"},
		)

		discoveryBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newshub_discovery_bytes_total",
				Help: "Bytes fetched for sitemaps and category pages, labeled by site.",
			},
			[]string{"site"},
		)

		articlesProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newshub_articles_processed_total",
				Help: "Article URLs processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scrapingErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newshub_scraping_errors_total",
				Help: "Scraping errors recorded, labeled by error type.",
			},
			[]string{"error_type"},
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

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newshub_robots_fallback_total",
				Help: "robots.txt fetches that timed out and fell back to allow-all.",
			},
		)

		jobTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newshub_job_transitions_total",
				Help: "Job state transitions, labeled by the state entered.",
			},
			[]string{"status"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newshub_active_jobs",
				Help: "Job state machines currently owned by this process.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newshub_active_workers",
				Help: "Workers currently crawling an article URL.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newshub_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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
	Init()
	return promhttp.Handler()
}

// ObserveDiscovered counts a yielded candidate URL.
func ObserveDiscovered(site, source string) {
	Init()
	urlsDiscoveredTotal.WithLabelValues(SanitizeSite(site), source).Inc()
}

// ObserveDiscoveryFetch counts bytes fetched during discovery.
func ObserveDiscoveryFetch(site string, bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		discoveryBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveArticle counts a processed article URL by outcome
// (created, updated, unchanged, failed).
func ObserveArticle(site, outcome string) {
	Init()
	articlesProcessedTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveScrapingError counts a recorded scraping error.
func ObserveScrapingError(kind string) {
	Init()
	scrapingErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts an allow-all robots fallback.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveJobTransition counts a job entering status.
func ObserveJobTransition(status string) {
	Init()
	jobTransitionsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
