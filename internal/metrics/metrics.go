// Package metrics holds the Prometheus collectors exported by the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for cleanup operations.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Retry reasons.
const (
	ReasonRateLimit = "rate_limit"
	ReasonAuth      = "auth"
)

var (
	sourceRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sweepbot",
			Name:      "source_retries_total",
			Help:      "Retries issued against the conversation source, partitioned by reason.",
		},
		[]string{"reason"},
	)

	cleanupOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sweepbot",
			Name:      "cleanup_operations_total",
			Help:      "Cleanup runs and simulations, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	cleanupItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sweepbot",
			Name:      "cleanup_items_total",
			Help:      "Conversations processed by cleanup runs, partitioned by result.",
		},
		[]string{"result"},
	)

	conversationsScannedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sweepbot",
			Name:      "conversations_scanned_total",
			Help:      "Conversations retrieved from the source and evaluated against filters.",
		},
	)

	cleanupDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sweepbot",
			Name:      "cleanup_duration_seconds",
			Help:      "Cleanup operation latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"kind"},
	)
)

// Register attaches the sweepbot collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		sourceRetriesTotal,
		cleanupOperationsTotal,
		cleanupItemsTotal,
		conversationsScannedTotal,
		cleanupDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRetry counts one retry of a source call.
func ObserveRetry(reason string) {
	sourceRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveCleanup records the duration and outcome of a run or simulation.
func ObserveCleanup(kind string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	cleanupOperationsTotal.WithLabelValues(kind, label).Inc()
	if duration < 0 {
		duration = 0
	}
	cleanupDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// AddScanned counts conversations evaluated against a filter.
func AddScanned(n int) {
	conversationsScannedTotal.Add(float64(n))
}

// AddItems counts processed conversations.
func AddItems(deleted, failed int) {
	cleanupItemsTotal.WithLabelValues("deleted").Add(float64(deleted))
	cleanupItemsTotal.WithLabelValues("failed").Add(float64(failed))
}
