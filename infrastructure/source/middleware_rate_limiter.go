package source

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// rateLimitedFetcher paces page reads with a token bucket so prefetching
// does not overwhelm the store.
type rateLimitedFetcher struct {
	next    ports.PageFetcher
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using a
// token bucket algorithm. The limit parameter sets pages per second, while
// burst allows temporary spikes above the sustained rate.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next ports.PageFetcher) ports.PageFetcher {
		return &rateLimitedFetcher{
			next:    next,
			limiter: limiter,
		}
	}
}

// FetchPage waits for rate limit permission before forwarding the read.
func (r *rateLimitedFetcher) FetchPage(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]domain.BallotRecord, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.FetchPage(ctx, filter, offset, limit)
}
