package source

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// Default retry configuration constants.
const (
	// DefaultMaxRetries is the default number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the default initial delay before the first retry.
	DefaultBaseDelay = 200 * time.Millisecond
	// DefaultMaxDelay is the default maximum delay between retry attempts.
	DefaultMaxDelay = 5 * time.Second
	// DefaultJitterPercent is the default jitter percentage.
	DefaultJitterPercent = 0.25
)

// RetryConfig defines the configuration for page retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retries.
	MaxRetries int

	// BaseDelay sets the initial delay for the first retry attempt.
	// Subsequent delays are calculated using exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the maximum delay between retry attempts.
	MaxDelay time.Duration

	// JitterPercent spreads each delay by ±JitterPercent. It should be
	// between 0.0 and 1.0.
	JitterPercent float64
}

// DefaultRetryConfig returns a RetryConfig with sensible default values.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		JitterPercent: DefaultJitterPercent,
	}
}

// retryFetcher retries transient page failures with exponential backoff.
type retryFetcher struct {
	next   ports.PageFetcher
	config RetryConfig
	log    logrus.FieldLogger
}

// RetryMiddleware creates middleware that retries transient page failures.
// When retries are exhausted, or the failure is not transient, it returns a
// *domain.SourceError carrying the page offset and attempt count.
func RetryMiddleware(config RetryConfig, log logrus.FieldLogger) Middleware {
	return func(next ports.PageFetcher) ports.PageFetcher {
		return &retryFetcher{
			next:   next,
			config: config,
			log:    log,
		}
	}
}

// FetchPage executes the page read with retry logic. Context cancellation
// stops retrying immediately and is returned unwrapped.
func (r *retryFetcher) FetchPage(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]domain.BallotRecord, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		attempts++
		rows, err := r.next.FetchPage(ctx, filter, offset, limit)
		if err == nil {
			return rows, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == r.config.MaxRetries || !IsTransient(err) {
			break
		}

		delay := r.calculateDelay(attempt)
		if r.log != nil {
			r.log.WithFields(logrus.Fields{
				"offset":  offset,
				"attempt": attempts,
				"delay":   delay.String(),
				"error":   err.Error(),
			}).Warn("page fetch failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, domain.NewSourceError(offset, attempts, lastErr)
}

func (r *retryFetcher) calculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	// #nosec G115 - attempt is bounded between 0 and 30
	delay := r.config.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > r.config.MaxDelay || delay <= 0 {
		delay = r.config.MaxDelay
	}

	jitter := int64(float64(delay) * r.config.JitterPercent)
	if jitter > 0 {
		//nolint:gosec // G404: math/rand is acceptable for retry jitter timing.
		delay += time.Duration(rand.Int64N(2*jitter) - jitter)
	}

	if delay < 0 {
		return 0
	}
	return delay
}
