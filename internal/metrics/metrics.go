package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status.",
		},
		[]string{"method", "path", "status"},
	)

	chunksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "sync_chunks_total",
			Help:      "Processed sync chunks by outcome.",
		},
		[]string{"outcome"},
	)

	recordsSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "sync_records_total",
			Help:      "Cost records written by the sync pipeline.",
		},
	)

	fetchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "billing_fetch_retries_total",
			Help:      "Rate-limited billing fetches that were retried.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, chunksProcessed, recordsSynced, fetchRetries)
	})
}

// IncHTTP counts one served HTTP request.
func IncHTTP(method, path, status string) {
	httpRequests.WithLabelValues(method, path, status).Inc()
}

// IncChunk counts one chunk reaching a terminal state.
func IncChunk(outcome string) {
	chunksProcessed.WithLabelValues(outcome).Inc()
}

// AddRecordsSynced counts rows written by the upserter.
func AddRecordsSynced(n int64) {
	recordsSynced.Add(float64(n))
}

// IncFetchRetry counts one rate-limit retry of a chunk fetch.
func IncFetchRetry() {
	fetchRetries.Inc()
}
