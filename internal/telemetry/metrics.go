package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	UploadsAccepted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_uploads_accepted_total", Help: "Recordings accepted by the upload endpoint"})
	UploadsRejected  = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_uploads_rejected_total", Help: "Uploads rejected by validation"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_rate_limit_rejects_total", Help: "Uploads rejected by the rate limiter"})
	JobsEnqueued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_jobs_enqueued_total", Help: "Processing jobs accepted by the queue"})
	JobsDuplicate    = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_jobs_duplicate_total", Help: "Enqueue attempts deduplicated by recording id"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_jobs_completed_total", Help: "Jobs that reached done"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_jobs_retried_total", Help: "Automatic retries scheduled after a failed attempt"})
	JobsExhausted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_jobs_exhausted_total", Help: "Jobs left failed after the automatic retry budget"})
	PlaceholderRuns  = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_placeholder_results_total", Help: "Jobs completed with placeholder output (no provider credential or empty transcript)"})
	ProviderCalls    = prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceflow_provider_calls_total", Help: "Provider API attempts, including internal retries"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "voiceflow_queue_depth", Help: "Ready queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "voiceflow_jobs_inflight", Help: "Jobs currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			UploadsAccepted,
			UploadsRejected,
			RateLimitRejects,
			JobsEnqueued,
			JobsDuplicate,
			JobsCompleted,
			JobsRetried,
			JobsExhausted,
			PlaceholderRuns,
			ProviderCalls,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
