// Package metrics exposes Prometheus collectors for the booklist service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	generationCallsTotal       *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	fetchRetryDelaySeconds     prometheus.Histogram
	busyRejectionsTotal        prometheus.Counter
	archiveSize                prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		generationCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booklist_generation_calls_total",
				Help: "Generative API calls, labeled by endpoint host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booklist_fetch_retries_total",
				Help: "Retries scheduled by the resilient fetch loop, labeled by operation.",
			},
			[]string{"op"},
		)

		fetchRetryDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "booklist_fetch_retry_delay_seconds",
				Help:    "Backoff waits before each retry.",
				Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
			},
		)

		busyRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "booklist_busy_rejections_total",
				Help: "Run requests rejected because a run was in progress.",
			},
		)

		archiveSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "booklist_archive_projects",
				Help: "Archived projects last observed.",
			},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from an endpoint URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveGeneration counts one generative call against endpoint.
func ObserveGeneration(endpoint, outcome string) {
	Init()
	generationCallsTotal.WithLabelValues(SanitizeHost(endpoint), outcome).Inc()
}

// ObserveRetry records a scheduled retry and its backoff. Its signature
// matches fetch.RetryHook once the attempt and error are dropped.
func ObserveRetry(op string, delay time.Duration) {
	Init()
	fetchRetriesTotal.WithLabelValues(op).Inc()
	fetchRetryDelaySeconds.Observe(delay.Seconds())
}

// ObserveBusyRejection counts a run request refused while busy.
func ObserveBusyRejection() {
	Init()
	busyRejectionsTotal.Inc()
}

// SetArchiveSize records the archive length.
func SetArchiveSize(n int) {
	Init()
	archiveSize.Set(float64(n))
}
