package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killtracker_tasks_total",
			Help: "Tasks run by the worker pool, by task name and outcome.",
		},
		[]string{"task", "status"},
	)
	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "killtracker_task_duration_seconds",
			Help:    "Duration of tasks run by the worker pool.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"task"},
	)
)
