package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики выполнения workflow.
var (
	// RunsTotal — количество завершённых runs по статусам.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_runs_total",
		Help: "Total workflow runs by final status",
	}, []string{"workflow", "status"})

	// RunDuration — длительность выполнения runs.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_run_duration_seconds",
		Help:    "Workflow run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"workflow"})

	// TasksTotal — количество завершённых задач по статусам.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_tasks_total",
		Help: "Total workflow tasks by final status",
	}, []string{"workflow", "type", "status"})
)

// ObserveRun записывает метрики завершённого run.
func ObserveRun(workflow, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(workflow, status).Inc()
	RunDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// ObserveTask записывает метрики завершённой задачи.
func ObserveTask(workflow, taskType, status string) {
	TasksTotal.WithLabelValues(workflow, taskType, status).Inc()
}
