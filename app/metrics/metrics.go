// Package metrics exposes Prometheus collectors for the crawler and API.
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
	crawlOutcomesTotal         *prometheus.CounterVec
	newEntriesTotal            *prometheus.CounterVec
	feedDurationSeconds        *prometheus.HistogramVec
	crawlDurationSeconds       prometheus.Histogram
	feedsInFlight              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	once.Do(func() {
		crawlOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skim_crawl_outcomes_total",
				Help: "Total number of feed crawl outcomes, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		newEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skim_new_entries_total",
				Help: "Total number of entries stored for the first time, labeled by site.",
			},
			[]string{"site"},
		)

		feedDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skim_feed_duration_seconds",
				Help:    "Histogram of time spent fetching and storing one feed, labeled by status.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skim_crawl_duration_seconds",
				Help:    "Histogram of full crawl run durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		)

		feedsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "skim_feeds_in_flight",
				Help: "Number of feeds currently being crawled.",
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

// SanitizeSite reduces a feed URL to its lowercase hostname, or "unknown".
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

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOutcome records one feed crawl.
func ObserveOutcome(feedURL, status string, newEntries int, duration time.Duration) {
	Init()
	site := SanitizeSite(feedURL)
	crawlOutcomesTotal.WithLabelValues(site, status).Inc()
	if newEntries > 0 {
		newEntriesTotal.WithLabelValues(site).Add(float64(newEntries))
	}
	feedDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

func ObserveCrawl(duration time.Duration) {
	Init()
	crawlDurationSeconds.Observe(duration.Seconds())
}

func IncFeedsInFlight() {
	Init()
	feedsInFlight.Inc()
}

func DecFeedsInFlight() {
	Init()
	feedsInFlight.Dec()
}

func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
