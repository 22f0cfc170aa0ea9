package source

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// Metric names emitted by MetricsMiddleware.
const (
	MetricPageLatency = "source_page_latency_seconds"
	MetricPages       = "source_pages_total"
	MetricRows        = "source_rows_fetched_total"
)

type metricsFetcher struct {
	next      ports.PageFetcher
	collector ports.MetricsCollector
	store     string
}

// MetricsMiddleware creates middleware that records page latency, outcome
// and row counts, labelled with the store name.
func MetricsMiddleware(collector ports.MetricsCollector, store string) Middleware {
	return func(next ports.PageFetcher) ports.PageFetcher {
		return &metricsFetcher{
			next:      next,
			collector: collector,
			store:     store,
		}
	}
}

// FetchPage executes the page read while collecting metrics.
func (m *metricsFetcher) FetchPage(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]domain.BallotRecord, error) {
	start := time.Now()
	rows, err := m.next.FetchPage(ctx, filter, offset, limit)
	if m.collector == nil {
		return rows, err
	}

	labels := map[string]string{
		"store":  m.store,
		"status": pageStatus(ctx, err),
	}
	m.collector.RecordHistogram(MetricPageLatency, time.Since(start).Seconds(), labels)
	m.collector.RecordCounter(MetricPages, 1, labels)
	if err == nil {
		m.collector.RecordCounter(MetricRows, float64(len(rows)), map[string]string{"store": m.store})
	}
	return rows, err
}

func pageStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case ctx.Err() != nil:
		return "canceled"
	case errors.Is(err, ports.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
