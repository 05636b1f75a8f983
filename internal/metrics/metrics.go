// Package metrics exposes Prometheus collectors for the filing pipeline.
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
	fetchRequestsTotal       *prometheus.CounterVec
	fetchBytesTotal          prometheus.Counter
	fetchRetriesTotal        prometheus.Counter
	fetchCacheHitsTotal      prometheus.Counter
	fetchDurationSeconds     prometheus.Histogram
	rateLimitDelaySeconds    prometheus.Histogram
	downloadTasksTotal       *prometheus.CounterVec
	activeDownloadWorkers    prometheus.Gauge
	submissionDocumentsTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgar_fetch_requests_total",
				Help: "Total outbound archive requests, labeled by status code.",
			},
			[]string{"code"},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "edgar_fetch_bytes_total",
				Help: "Total bytes fetched from the archive.",
			},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "edgar_fetch_retries_total",
				Help: "Total retry attempts across all requests.",
			},
		)

		fetchCacheHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "edgar_fetch_cache_hits_total",
				Help: "Fetch-to-file calls satisfied by an existing local file.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "edgar_fetch_duration_seconds",
				Help:    "Histogram of archive request latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "edgar_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the request pacer.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)

		downloadTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgar_download_tasks_total",
				Help: "Total download tasks reaching a terminal status.",
			},
			[]string{"status"},
		)

		activeDownloadWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgar_active_download_workers",
				Help: "Number of workers currently downloading a filing.",
			},
		)

		submissionDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgar_submission_documents_total",
				Help: "Documents decomposed from submissions, labeled by encoding.",
			},
			[]string{"encoding"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one completed archive request.
func ObserveFetch(code int, bytesFetched int, duration time.Duration) {
	Init()
	fetchRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRetry counts one retry attempt.
func ObserveRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObserveCacheHit counts one short-circuited fetch-to-file call.
func ObserveCacheHit() {
	Init()
	fetchCacheHitsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a pacer wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveTask increments the terminal-status task counter.
func ObserveTask(status string) {
	Init()
	downloadTasksTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeDownloadWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeDownloadWorkers.Dec()
}

// ObserveDocument counts a decomposed document by raw encoding.
func ObserveDocument(encoding string) {
	Init()
	submissionDocumentsTotal.WithLabelValues(encoding).Inc()
}
