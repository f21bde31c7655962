// Package metrics holds the Prometheus collectors for engine operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rcliao/brandkeeper/internal/errs"
)

var (
	// Operations counts engine operations by component, operation and result.
	// result is "ok" or the error kind.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brandkeeper_operations_total",
		Help: "Total number of engine operations by component, operation and result",
	}, []string{"component", "op", "result"})

	// OperationLatency observes operation duration in seconds.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brandkeeper_operation_duration_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"component", "op"})

	// ConsolidatedEntries counts entries removed by consolidation merges.
	ConsolidatedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brandkeeper_consolidated_entries_total",
		Help: "Total number of memory entries merged away by consolidation",
	}, []string{"memory_type"})

	// ValidationScore observes overall validation scores.
	ValidationScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "brandkeeper_validation_overall_score",
		Help:    "Overall score of full validations",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	})

	// CompleterRetries counts retried completion attempts.
	CompleterRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brandkeeper_completer_retries_total",
		Help: "Total number of retried text-completion attempts",
	})
)

// Observe records one operation started at start that ended with err.
func Observe(component, op string, start time.Time, err error) {
	OperationLatency.WithLabelValues(component, op).Observe(time.Since(start).Seconds())
	Operations.WithLabelValues(component, op, Result(err)).Inc()
}

// Result is the result label for err.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	if k := errs.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
