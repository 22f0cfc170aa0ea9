package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a page read
// without contacting the store.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed lets every page read through.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects page reads until the cooldown expires.
	StateOpen
	// StateHalfOpen admits a single trial read to test recovery.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker trips after consecutive failures and retries a single read to detect recovery
// once a cooldown has elapsed. Calls run outside the lock so concurrent
// prefetches are not serialized.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	lastFailure      time.Time
	probing          bool
	now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker that opens after maxFailures
// consecutive errors and stays open for cooldown.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      maxFailures,
		cooldownDuration: cooldown,
		now:              time.Now,
	}
}

// Call executes fn through the circuit breaker. It returns ErrCircuitOpen
// without calling fn while the circuit is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cooldownDuration {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Caller cancellation says nothing about store health.
	if err != nil && errors.Is(err, context.Canceled) {
		if cb.state == StateHalfOpen {
			cb.probing = false
		}
		return
	}

	if err == nil {
		cb.failureCount = 0
		cb.state = StateClosed
		cb.probing = false
		return
	}

	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
		cb.probing = false
	}
}

type circuitBreakerFetcher struct {
	next ports.PageFetcher
	cb   *CircuitBreaker
}

// CircuitBreakerMiddleware creates middleware that guards page reads with cb.
// Sharing one breaker across fetchers makes them trip together.
func CircuitBreakerMiddleware(cb *CircuitBreaker) Middleware {
	return func(next ports.PageFetcher) ports.PageFetcher {
		return &circuitBreakerFetcher{next: next, cb: cb}
	}
}

// FetchPage executes the page read through the circuit breaker.
func (c *circuitBreakerFetcher) FetchPage(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]domain.BallotRecord, error) {
	var rows []domain.BallotRecord
	err := c.cb.Call(func() error {
		var err error
		rows, err = c.next.FetchPage(ctx, filter, offset, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
