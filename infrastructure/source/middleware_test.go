package source

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// scriptedFetcher returns queued errors before succeeding.
type scriptedFetcher struct {
	mu    sync.Mutex
	errs  []error
	calls int
	rows  []domain.BallotRecord
}

func (s *scriptedFetcher) FetchPage(ctx context.Context, _ domain.Filter, _, _ int) ([]domain.BallotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return s.rows, ctx.Err()
}

type recordingCollector struct {
	mu         sync.Mutex
	counters   map[string]float64
	histograms map[string]int
	labels     []map[string]string
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{counters: map[string]float64{}, histograms: map[string]int{}}
}

func (r *recordingCollector) RecordLatency(string, time.Duration, map[string]string) {}
func (r *recordingCollector) RecordGauge(string, float64, map[string]string)         {}

func (r *recordingCollector) RecordCounter(name string, v float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += v
	r.labels = append(r.labels, labels)
}

func (r *recordingCollector) RecordHistogram(name string, _ float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms[name]++
}

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestChain_AppliesOutermostFirst(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next ports.PageFetcher) ports.PageFetcher {
			return ports.PageFetcherFunc(func(ctx context.Context, f domain.Filter, o, l int) ([]domain.BallotRecord, error) {
				order = append(order, name)
				return next.FetchPage(ctx, f, o, l)
			})
		}
	}

	f := Chain(NewMemoryFetcher(nil), tag("a"), tag("b"), tag("c"))
	_, err := f.FetchPage(context.Background(), testFilter, 0, 10)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"circuit open", ErrCircuitOpen, false},
		{"store unavailable", ports.NewStoreError("pg", "q", ports.ErrServiceUnavailable), true},
		{"store auth", ports.NewStoreError("pg", "q", ports.ErrAuthenticationFailed), false},
		{"wrapped timeout", fmt.Errorf("page: %w", ports.ErrTimeout), true},
		{"bad conn", driver.ErrBadConn, true},
		{"plain", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryMiddleware(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		// Given a store that fails twice with transient errors
		inner := &scriptedFetcher{
			errs: []error{ports.ErrServiceUnavailable, ports.ErrTimeout},
			rows: []domain.BallotRecord{ballot("Recife", 1, 1, "10", 1)},
		}

		// When the page is fetched through the retry middleware
		rows, err := Chain(inner, RetryMiddleware(fastRetry(3), nil)).FetchPage(context.Background(), testFilter, 0, 10)

		// Then the third attempt succeeds
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		inner := &scriptedFetcher{errs: []error{ports.ErrAuthenticationFailed}}

		_, err := Chain(inner, RetryMiddleware(fastRetry(3), nil)).FetchPage(context.Background(), testFilter, 40, 10)

		var srcErr *domain.SourceError
		require.ErrorAs(t, err, &srcErr)
		assert.Equal(t, 40, srcErr.Offset)
		assert.Equal(t, 1, srcErr.Attempts)
		assert.Equal(t, 1, inner.calls)
		assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
	})

	t.Run("cancellation stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		inner := ports.PageFetcherFunc(func(context.Context, domain.Filter, int, int) ([]domain.BallotRecord, error) {
			cancel()
			return nil, ports.ErrServiceUnavailable
		})

		_, err := Chain(inner, RetryMiddleware(fastRetry(5), nil)).FetchPage(ctx, testFilter, 0, 10)

		assert.ErrorIs(t, err, context.Canceled)
		var srcErr *domain.SourceError
		assert.False(t, errors.As(err, &srcErr), "cancellation is not a source failure")
	})

	t.Run("delay stays within bounds", func(t *testing.T) {
		r := &retryFetcher{config: RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterPercent: 0.25}}
		for attempt := 0; attempt < 40; attempt++ {
			d := r.calculateDelay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, 1250*time.Millisecond)
		}
	})
}

func TestTimeoutMiddleware(t *testing.T) {
	slow := ports.PageFetcherFunc(func(ctx context.Context, _ domain.Filter, _, _ int) ([]domain.BallotRecord, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := Chain(slow, TimeoutMiddleware(5*time.Millisecond)).FetchPage(context.Background(), testFilter, 0, 10)

	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrTimeout)
	assert.True(t, IsTransient(err), "a page timeout must be retryable")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Chain(slow, TimeoutMiddleware(time.Second)).FetchPage(ctx, testFilter, 0, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitMiddleware(t *testing.T) {
	inner := &scriptedFetcher{}
	f := Chain(inner, RateLimitMiddleware(rate.Every(time.Hour), 1))

	_, err := f.FetchPage(context.Background(), testFilter, 0, 10)
	require.NoError(t, err, "burst admits the first page")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.FetchPage(ctx, testFilter, 10, 10)
	require.Error(t, err, "second page must wait past the deadline")
	assert.Equal(t, 1, inner.calls)
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }
	fail := errors.New("down")

	// Given consecutive failures reaching the threshold
	assert.ErrorIs(t, cb.Call(func() error { return fail }), fail)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(func() error { return fail }), fail)

	// Then the circuit opens and rejects calls without running them
	assert.Equal(t, StateOpen, cb.GetState())
	called := false
	assert.ErrorIs(t, cb.Call(func() error { called = true; return nil }), ErrCircuitOpen)
	assert.False(t, called)

	// When the cooldown passes a single trial read is admitted
	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())

	// And a failing trial read reopens immediately
	assert.Error(t, cb.Call(func() error { return fail }))
	assert.Error(t, cb.Call(func() error { return fail }))
	now = now.Add(2 * time.Minute)
	assert.Error(t, cb.Call(func() error { return fail }))
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, "open", cb.GetState().String())
}

func TestCircuitBreakerMiddleware_NotRetried(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	inner := &scriptedFetcher{errs: []error{ports.ErrServiceUnavailable, ports.ErrServiceUnavailable}}

	f := Chain(inner, RetryMiddleware(fastRetry(3), nil), CircuitBreakerMiddleware(cb))
	_, err := f.FetchPage(context.Background(), testFilter, 0, 10)

	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, inner.calls, "the open circuit stops the retry loop")
}

func TestMetricsMiddleware(t *testing.T) {
	collector := newRecordingCollector()
	inner := &scriptedFetcher{
		errs: []error{ports.ErrServiceUnavailable},
		rows: []domain.BallotRecord{ballot("Recife", 1, 1, "10", 1), ballot("Recife", 1, 1, "20", 1)},
	}
	f := Chain(inner, MetricsMiddleware(collector, "memory"))

	_, err := f.FetchPage(context.Background(), testFilter, 0, 10)
	require.Error(t, err)
	_, err = f.FetchPage(context.Background(), testFilter, 0, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, collector.histograms[MetricPageLatency])
	assert.Equal(t, float64(2), collector.counters[MetricPages])
	assert.Equal(t, float64(2), collector.counters[MetricRows])
	assert.Equal(t, "error", collector.labels[0]["status"])
	assert.Equal(t, "memory", collector.labels[0]["store"])
}

func TestTracingMiddleware_PassesThrough(t *testing.T) {
	inner := &scriptedFetcher{errs: []error{ports.ErrTimeout}, rows: []domain.BallotRecord{ballot("Recife", 1, 1, "10", 1)}}
	f := Chain(inner, TracingMiddleware("memory"))

	_, err := f.FetchPage(context.Background(), testFilter, 0, 10)
	assert.ErrorIs(t, err, ports.ErrTimeout)

	rows, err := f.FetchPage(context.Background(), testFilter, 0, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
