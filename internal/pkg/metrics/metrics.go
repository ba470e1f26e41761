// Package metrics exposes Prometheus metrics for the sandbox pool and the
// service registry. Collectors are registered on the default registry and
// served on /metrics by the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts tasks accepted by each sandbox worker.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "tasks_total",
		Help:      "Tasks accepted by a sandbox worker.",
	}, []string{"worker"})

	// TaskErrorsTotal counts tasks that completed with an error.
	TaskErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "task_errors_total",
		Help:      "Tasks that completed with an error.",
	}, []string{"worker"})

	// TasksInFlight tracks futures currently held by worker loops.
	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hive",
		Name:      "tasks_in_flight",
		Help:      "Task futures currently polled by sandbox workers.",
	})

	// WorkerPanics counts worker threads lost to a panic.
	WorkerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "worker_panics_total",
		Help:      "Sandbox worker threads terminated by a panic.",
	})

	// Services tracks registered services by lifecycle status.
	Services = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hive",
		Name:      "services",
		Help:      "Registered services by lifecycle status.",
	}, []string{"status"})
)
