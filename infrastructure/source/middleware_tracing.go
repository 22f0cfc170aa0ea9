package source

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

const tracerName = "github.com/ahrav/go-tally/infrastructure/source"

type tracedFetcher struct {
	next   ports.PageFetcher
	tracer trace.Tracer
	store  string
}

// TracingMiddleware creates middleware that wraps every page read in a span
// from the global tracer provider.
func TracingMiddleware(store string) Middleware {
	tracer := otel.Tracer(tracerName)
	return func(next ports.PageFetcher) ports.PageFetcher {
		return &tracedFetcher{next: next, tracer: tracer, store: store}
	}
}

// FetchPage executes the page read within a span.
func (t *tracedFetcher) FetchPage(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]domain.BallotRecord, error) {
	ctx, span := t.tracer.Start(ctx, "source.fetch_page",
		trace.WithAttributes(
			attribute.String("source.store", t.store),
			attribute.String("source.filter", filter.String()),
			attribute.Int("source.offset", offset),
			attribute.Int("source.limit", limit),
		),
	)
	defer span.End()

	rows, err := t.next.FetchPage(ctx, filter, offset, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("source.rows", len(rows)))
	return rows, nil
}
