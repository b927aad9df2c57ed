package metrics

import (
	"regexp"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestDuration tracks HTTP request duration in seconds by method, path, status.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RequestTotal counts HTTP requests by method, path, status.
	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ExecutionsRunning is the number of notebook executions holding a worker slot.
	ExecutionsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "juport_executions_running",
			Help: "Number of notebook executions currently running",
		},
	)

	// ExecutionsPending is the number of accepted executions waiting for a worker slot.
	ExecutionsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "juport_executions_pending",
			Help: "Number of notebook executions waiting for a worker",
		},
	)

	// ExecutionsTotal counts finalized executions by status and trigger.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "juport_executions_total",
			Help: "Total number of finalized notebook executions",
		},
		[]string{"status", "trigger"},
	)

	// ExecutionDuration tracks run time in seconds by status.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "juport_execution_duration_seconds",
			Help:    "Notebook execution duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	// SchedulerTicks counts scheduler ticks by result (ok, error).
	SchedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "juport_scheduler_ticks_total",
			Help: "Total number of scheduler ticks",
		},
		[]string{"result"},
	)

	// ScheduleDispatches counts scheduled dispatch attempts by result (dispatched, busy, error).
	ScheduleDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "juport_schedule_dispatches_total",
			Help: "Total number of due schedules handled by the scheduler",
		},
		[]string{"result"},
	)
)

var (
	numericPathSegment = regexp.MustCompile(`/[0-9]+(/|$)`)
	initOnce           sync.Once
)

func init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestDuration, RequestTotal,
			ExecutionsRunning, ExecutionsPending, ExecutionsTotal, ExecutionDuration,
			SchedulerTicks, ScheduleDispatches,
		)
	})
}

// NormalizePath reduces cardinality by replacing numeric path segments with {id}.
// E.g. /executions/123/output -> /executions/{id}/output.
func NormalizePath(path string) string {
	for {
		next := numericPathSegment.ReplaceAllString(path, "/{id}$1")
		if next == path {
			return path
		}
		path = next
	}
}

// RecordRequest records duration and count for an HTTP request.
func RecordRequest(method, path string, statusCode int, durationSeconds float64) {
	path = NormalizePath(path)
	status := strconv.Itoa(statusCode)
	RequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	RequestTotal.WithLabelValues(method, path, status).Inc()
}

// ExecutionQueued is called when an execution is accepted.
func ExecutionQueued() { ExecutionsPending.Inc() }

// ExecutionStarted moves an execution from pending to running.
func ExecutionStarted() {
	ExecutionsPending.Dec()
	ExecutionsRunning.Inc()
}

// ExecutionAbandoned drops a pending execution that never started.
func ExecutionAbandoned() { ExecutionsPending.Dec() }

// ExecutionFinished records a finalized execution that had started.
func ExecutionFinished(status, trigger string, durationSeconds float64) {
	ExecutionsRunning.Dec()
	ExecutionsTotal.WithLabelValues(status, trigger).Inc()
	ExecutionDuration.WithLabelValues(status).Observe(durationSeconds)
}

// Tick records a scheduler tick.
func Tick(err error) {
	if err != nil {
		SchedulerTicks.WithLabelValues("error").Inc()
		return
	}
	SchedulerTicks.WithLabelValues("ok").Inc()
}

// Dispatched records how a due schedule was handled.
func Dispatched(result string) {
	ScheduleDispatches.WithLabelValues(result).Inc()
}
