// Package metrics provides Prometheus metrics for the video task pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidflow_tasks_created_total",
			Help: "Total number of video tasks created",
		},
	)
	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidflow_tasks_finished_total",
			Help: "Total number of video tasks that reached a terminal status",
		},
		[]string{"status", "stage"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidflow_task_duration_seconds",
			Help:    "Time from task creation to terminal status",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"status"},
	)
	ProviderPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidflow_provider_polls_total",
			Help: "Provider status polls by normalized outcome",
		},
		[]string{"outcome"},
	)
	ShortenerFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidflow_shortener_fallbacks_total",
			Help: "Completed tasks that kept the unshortened provider url",
		},
	)
	CatalogSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidflow_catalog_syncs_total",
			Help: "Catalog video field sync outcomes",
		},
		[]string{"result"},
	)
	HistoryWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidflow_history_write_errors_total",
			Help: "History entries that could not be written",
		},
	)
	TasksEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidflow_tasks_evicted_total",
			Help: "Live task records removed by the cleanup sweep",
		},
	)
	PipelinesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidflow_pipelines_running",
			Help: "Number of task pipelines currently executing",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func RecordTaskCreated() {
	TasksCreated.Inc()
}

// RecordTaskFinished counts a terminal task. stage names the pipeline step that
// decided the outcome.
func RecordTaskFinished(status, stage string, d time.Duration) {
	TasksFinished.WithLabelValues(status, stage).Inc()
	TaskDuration.WithLabelValues(status).Observe(d.Seconds())
}

func RecordPoll(outcome string) {
	ProviderPolls.WithLabelValues(outcome).Inc()
}

func RecordShortenerFallback() {
	ShortenerFallbacks.Inc()
}

func RecordCatalogSync(ok bool) {
	result := "failed"
	if ok {
		result = "updated"
	}
	CatalogSyncs.WithLabelValues(result).Inc()
}

func RecordHistoryWriteError() {
	HistoryWriteErrors.Inc()
}

func RecordEvicted(n int) {
	TasksEvicted.Add(float64(n))
}

func UpdatePipelinesRunning(n int) {
	PipelinesRunning.Set(float64(n))
}

func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
