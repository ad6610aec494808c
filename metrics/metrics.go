// Package metrics holds the Prometheus collectors for pipeline runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "pipematrix"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of finished pipeline runs",
	}, []string{
		"project",
		"entry",
		"status",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of pipeline runs",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{
		"project",
		"entry",
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{
		"stage",
		"status",
	})

	cleanupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "cleanup_failures_total",
		Help:      "Count of runs whose service stop failed",
	}, []string{
		"project",
		"entry",
	})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_in_flight",
		Help:      "Number of pipeline runs currently executing",
	})
)

// RecordRunStarted marks a run as in flight
func RecordRunStarted() {
	runsInFlight.Inc()
}

// RecordRunFinished records the outcome of a finished run
func RecordRunFinished(project, entry, status string, cleanupFailed bool, duration time.Duration) {
	runsInFlight.Dec()
	runsTotal.WithLabelValues(project, entry, status).Inc()
	runDuration.WithLabelValues(project, entry).Observe(duration.Seconds())
	if cleanupFailed {
		cleanupFailures.WithLabelValues(project, entry).Inc()
	}
}

// RecordStage records the duration of one stage
func RecordStage(stage, status string, duration time.Duration) {
	stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}
