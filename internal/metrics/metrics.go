package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchOutcomes counts remote fetches by operation and outcome status.
	FetchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fredsync_fetch_outcomes_total",
			Help: "Remote fetch outcomes by operation and status",
		},
		[]string{"operation", "status"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fredsync_fetch_duration_seconds",
			Help:    "Latency of remote API calls, excluding rate limiter waits",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fredsync_ratelimit_waits_total",
			Help: "Number of times a caller waited for the rate window to reset",
		},
	)

	RateLimitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fredsync_ratelimit_wait_seconds",
			Help:    "Time spent waiting for the rate window to reset",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)

	// QuotaRemaining mirrors the x-rate-limit-remaining header of the last response.
	QuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fredsync_quota_remaining",
			Help: "Remaining remote quota as reported by the last response",
		},
	)

	RowsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fredsync_rows_inserted_total",
			Help: "Rows inserted by incremental loads",
		},
		[]string{"table"},
	)

	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fredsync_rows_skipped_total",
			Help: "Candidate rows skipped because their fingerprint was already persisted",
		},
		[]string{"table"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fredsync_sync_runs_total",
			Help: "Completed sync runs by result",
		},
		[]string{"result"},
	)

	AnalysisRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fredsync_analysis_requests_total",
			Help: "LLM analysis requests by result",
		},
		[]string{"result"},
	)
)

// Router exposes /metrics and /healthz.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
