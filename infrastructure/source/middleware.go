// Package source implements the paginated source reader: page fetchers for
// the supported tabular stores, a middleware chain that adds resilience and
// observability to page reads, and the Reader that turns pages into a
// single deduplicated record stream.
package source

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/ahrav/go-tally/internal/ports"
)

// Middleware wraps a PageFetcher with additional behavior.
type Middleware func(ports.PageFetcher) ports.PageFetcher

// Chain applies middlewares to fetcher. The first middleware is the
// outermost: Chain(f, A, B) calls A, then B, then f.
func Chain(fetcher ports.PageFetcher, middlewares ...Middleware) ports.PageFetcher {
	for i := len(middlewares) - 1; i >= 0; i-- {
		fetcher = middlewares[i](fetcher)
	}
	return fetcher
}

// IsTransient reports whether a page fetch failure is worth retrying.
// Cancellation and open circuits are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var retryable interface{ IsRetryable() bool }
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, ports.ErrServiceUnavailable) ||
		errors.Is(err, ports.ErrTimeout) ||
		errors.Is(err, ports.ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
