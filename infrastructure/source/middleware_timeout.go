package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// timeoutFetcher bounds each page read.
type timeoutFetcher struct {
	next    ports.PageFetcher
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that enforces a per-page timeout.
// A page that exceeds it fails with ports.ErrTimeout, which is transient,
// while cancellation of the caller's context passes through untouched.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next ports.PageFetcher) ports.PageFetcher {
		return &timeoutFetcher{
			next:    next,
			timeout: timeout,
		}
	}
}

// FetchPage executes the page read with a timeout context.
func (t *timeoutFetcher) FetchPage(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]domain.BallotRecord, error) {
	pageCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	rows, err := t.next.FetchPage(pageCtx, filter, offset, limit)
	if err != nil && ctx.Err() == nil && errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("page at offset %d exceeded %v: %w", offset, t.timeout, ports.ErrTimeout)
	}
	return rows, err
}
