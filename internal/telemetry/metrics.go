package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsPushed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_jobs_pushed_total", Help: "Jobs pushed to the job store"})
	JobsProcessed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_jobs_processed_total", Help: "Jobs handled and deleted"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_jobs_failed_total", Help: "Jobs whose handler returned an error"})
	JobsUnregistered = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_jobs_unregistered_total", Help: "Picked jobs with no registered handler"})
	JobsInFlight     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_jobs_inflight", Help: "Jobs currently being handled"})

	TrainingsStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "extraction_trainings_total", Help: "Model training tasks submitted"})
	PredictionsStarted = prometheus.NewCounter(prometheus.CounterOpts{Name: "extraction_predictions_total", Help: "Suggestion prediction tasks submitted"})
	SuggestionsSaved   = prometheus.NewCounter(prometheus.CounterOpts{Name: "extraction_suggestions_saved_total", Help: "Suggestion records written"})
	SuggestionsFailed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "extraction_suggestions_failed_total", Help: "Suggestion records stored as failed"})
	CallbackRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "extraction_callback_rejects_total", Help: "Result callbacks rejected by the rate limiter"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsPushed,
			JobsProcessed,
			JobsFailed,
			JobsUnregistered,
			JobsInFlight,
			TrainingsStarted,
			PredictionsStarted,
			SuggestionsSaved,
			SuggestionsFailed,
			CallbackRejects,
		)
	})
	return promhttp.Handler()
}
