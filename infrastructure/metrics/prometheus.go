// Package metrics exports engine and source metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-tally/infrastructure/source"
	"github.com/ahrav/go-tally/internal/ports"
)

// PrometheusMetrics implements ports.MetricsCollector with Prometheus
// vectors. Metric names emitted by the source package get dedicated series
// labelled by store and outcome; anything else lands on generic vectors
// keyed by metric name.
type PrometheusMetrics struct {
	pageLatency   *prometheus.HistogramVec
	pages         *prometheus.CounterVec
	rowsFetched   *prometheus.CounterVec
	rowsIngested  *prometheus.CounterVec
	operationTime *prometheus.HistogramVec
	events        *prometheus.CounterVec
	gauges        *prometheus.GaugeVec
	observations  *prometheus.HistogramVec
}

// NewPrometheusMetrics registers all vectors on reg. A nil reg uses the
// global registry, which panics on a second registration.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusMetrics{
		pageLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    source.MetricPageLatency,
				Help:    "Latency of single page fetches against the tally store.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"store", "status"},
		),
		pages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: source.MetricPages,
				Help: "Pages requested from the tally store by outcome.",
			},
			[]string{"store", "status"},
		),
		rowsFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: source.MetricRows,
				Help: "Raw rows returned by the tally store.",
			},
			[]string{"store"},
		),
		rowsIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "source_rows_ingested_total",
				Help: "Rows consumed by report streams, split into read and malformed.",
			},
			[]string{"kind"},
		),

		operationTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tally_operation_duration_seconds",
				Help:    "Duration of report-level operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_events_total",
				Help: "Generic engine counters keyed by metric name.",
			},
			[]string{"metric", "status"},
		),
		gauges: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tally_state",
				Help: "Current engine state values.",
			},
			[]string{"metric"},
		),
		observations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tally_observations",
				Help:    "Generic engine distributions keyed by metric name.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"metric"},
		),
	}
}

func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// RecordLatency observes an operation's duration in seconds.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	pm.operationTime.WithLabelValues(operation, label(labels, "status")).Observe(duration.Seconds())
}

// RecordCounter adds value to the series named by metric.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case source.MetricPages:
		pm.pages.WithLabelValues(label(labels, "store"), label(labels, "status")).Add(value)
	case source.MetricRows:
		pm.rowsFetched.WithLabelValues(label(labels, "store")).Add(value)
	case source.MetricRowsRead:
		pm.rowsIngested.WithLabelValues("read").Add(value)
	case source.MetricRowsMalformed:
		pm.rowsIngested.WithLabelValues("malformed").Add(value)
	default:
		pm.events.WithLabelValues(metric, label(labels, "status")).Add(value)
	}
}

// RecordGauge sets a gauge.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.gauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram observes value on the series named by metric.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	if metric == source.MetricPageLatency {
		pm.pageLatency.WithLabelValues(label(labels, "store"), label(labels, "status")).Observe(value)
		return
	}
	pm.observations.WithLabelValues(metric).Observe(value)
}

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
