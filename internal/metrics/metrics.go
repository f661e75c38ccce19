// Package metrics exposes Prometheus instrumentation for model and chat calls.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raine/image-poet/internal/failure"
)

var (
	once sync.Once

	// OperationsTotal counts core operations by operation and result.
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "image_poet",
		Subsystem: "core",
		Name:      "operations_total",
		Help:      "Total number of caption, chat, analysis and compose operations, labeled by result.",
	}, []string{"operation", "result"})

	// OperationDurationSeconds is wall time per operation.
	OperationDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "image_poet",
		Subsystem: "core",
		Name:      "operation_duration_seconds",
		Help:      "Time spent in caption, chat, analysis and compose operations.",
		// Model calls are slow; keep buckets coarse.
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60, 120, 300},
	}, []string{"operation"})

	// InFlight is the number of pipeline tasks currently running.
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "image_poet",
		Subsystem: "core",
		Name:      "tasks_in_flight",
		Help:      "Current number of analysis and compose tasks running in the background.",
	})
)

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			OperationsTotal,
			OperationDurationSeconds,
			InFlight,
		)
	})
}

// ObserveOperation records the outcome and duration of one operation.
func ObserveOperation(operation string, err error, took time.Duration) {
	OperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
	OperationDurationSeconds.WithLabelValues(operation).Observe(took.Seconds())
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	kind := failure.KindOf(err)
	if kind == failure.KindUnknown {
		return "error"
	}
	return kind.String()
}
