// Package metrics exposes Prometheus collectors for the publish pipeline.
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
	fetchesTotal           *prometheus.CounterVec
	fetchRetriesTotal      *prometheus.CounterVec
	fetchBytesTotal        *prometheus.CounterVec
	cacheLookupsTotal      *prometheus.CounterVec
	proxyOutcomesTotal     *prometheus.CounterVec
	publishesTotal         *prometheus.CounterVec
	queueDepth             prometheus.Gauge
	activeWorkers          prometheus.Gauge
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listforge_fetches_total",
				Help: "Total number of upstream fetches, labeled by host and status.",
			},
			[]string{"host", "status"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listforge_fetch_retries_total",
				Help: "Total number of fetch retries, labeled by host.",
			},
			[]string{"host"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listforge_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listforge_response_cache_lookups_total",
				Help: "Response cache lookups, labeled by outcome (hit/miss).",
			},
			[]string{"outcome"},
		)

		proxyOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listforge_proxy_outcomes_total",
				Help: "Proxy fetch outcomes, labeled by result (success/failure).",
			},
			[]string{"result"},
		)

		publishesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listforge_publishes_total",
				Help: "Publish task outcomes, labeled by store and terminal status.",
			},
			[]string{"store", "status"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "listforge_publish_queue_depth",
				Help: "Number of pending tasks in the publish queue.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "listforge_active_workers",
				Help: "Number of workers currently executing a publish cycle.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a raw URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "https://" + rawURL
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

// ObserveFetch records one completed upstream fetch.
func ObserveFetch(host string, status string, bytesFetched int) {
	Init()
	sanitized := SanitizeHost(host)
	fetchesTotal.WithLabelValues(sanitized, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry increments the retry counter for a host.
func ObserveFetchRetry(host string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeHost(host)).Inc()
}

// ObserveCacheLookup records a response cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProxyOutcome records a proxy success or failure report.
func ObserveProxyOutcome(success bool) {
	Init()
	result := "failure"
	if success {
		result = "success"
	}
	proxyOutcomesTotal.WithLabelValues(result).Inc()
}

// ObservePublish increments the publish counter for a store and terminal status.
func ObservePublish(store string, status string) {
	Init()
	publishesTotal.WithLabelValues(store, status).Inc()
}

// SetQueueDepth updates the pending-task gauge.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSec.WithLabelValues(method, route).Observe(duration.Seconds())
}
