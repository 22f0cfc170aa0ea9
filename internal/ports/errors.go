package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur during external store
// interactions.
var (
	// ErrRateLimited indicates that the store has rate limited the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that the external store is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidResponse indicates that the store returned rows that could
	// not be decoded.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrAuthenticationFailed indicates that authentication with the
	// store failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// StoreError represents an error from a tabular store.
type StoreError struct {
	// Store names the backend, for example "mongo" or "postgres".
	Store string

	// Operation is the name of the operation that failed.
	Operation string

	// Err is the underlying error that occurred.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: store=%s, operation=%s, err=%v", e.Store, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is temporary and the operation
// can be retried.
func (e *StoreError) IsRetryable() bool {
	// Only network/service-level errors are retryable; logic errors are not
	return errors.Is(e.Err, ErrRateLimited) ||
		errors.Is(e.Err, ErrServiceUnavailable) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(store, operation string, err error) *StoreError {
	return &StoreError{
		Store:     store,
		Operation: operation,
		Err:       err,
	}
}
