package ports

import (
	"time"
)

// MetricsCollector defines the interface for collecting operational metrics.
// The Prometheus implementation lives in infrastructure/metrics.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like pages fetched, malformed rows,
	// retries, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// This is useful for tracking values like prefetch depth or distinct
	// keys held by an aggregation.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like page sizes.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
