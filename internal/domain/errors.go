package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur while building a report.
var (
	// ErrSourceUnavailable indicates that a page of tally rows could not be
	// read from the remote store, either because retries were exhausted or
	// because the failure was not transient.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedRecord indicates that a raw row failed shape validation.
	// Such rows are skipped and counted; they never fail a report.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrConfigurationMissing indicates that no seat count is configured for
	// an office or office/municipality pair.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrNoBaseline indicates that a geography has no counterpart in the
	// baseline side of a historical comparison.
	ErrNoBaseline = errors.New("no baseline")

	// ErrInvalidFilter indicates that a report filter is incomplete or
	// carries out-of-range values.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrKeyNotFound indicates that a requested key does not exist.
	ErrKeyNotFound = errors.New("key not found")
)

// SourceError reports a failed page read. It carries the offset of the
// page so the caller can retry exactly that page; page reads are pure and
// therefore idempotent.
type SourceError struct {
	// Offset is the row offset of the page that failed.
	Offset int

	// Attempts is how many times the page was requested before giving up.
	Attempts int

	// Err is the last underlying error returned by the store.
	Err error
}

// Error implements the error interface for SourceError.
func (e *SourceError) Error() string {
	return fmt.Sprintf("source unavailable: offset=%d, attempts=%d, err=%v", e.Offset, e.Attempts, e.Err)
}

// Unwrap returns both ErrSourceUnavailable and the store error so callers
// can match on either with errors.Is.
func (e *SourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }

// NewSourceError creates a new SourceError with the given details.
func NewSourceError(offset, attempts int, err error) *SourceError {
	return &SourceError{
		Offset:   offset,
		Attempts: attempts,
		Err:      err,
	}
}

// RecordError describes why a single BallotRecord was rejected.
type RecordError struct {
	// Field names the offending attribute.
	Field string

	// Reason is a short machine-friendly reason code, used as a diagnostic
	// tally key.
	Reason string
}

// Error implements the error interface for RecordError.
func (e *RecordError) Error() string {
	return fmt.Sprintf("malformed record: field=%s, reason=%s", e.Field, e.Reason)
}

// Unwrap returns ErrMalformedRecord.
func (e *RecordError) Unwrap() error { return ErrMalformedRecord }

// NewRecordError creates a new RecordError.
func NewRecordError(field, reason string) *RecordError {
	return &RecordError{Field: field, Reason: reason}
}

// ConfigurationMissingError reports an office (and optionally a
// municipality) without a configured seat count.
type ConfigurationMissingError struct {
	// OfficeCode is the office that was looked up.
	OfficeCode string

	// Municipality is set when the lookup was municipality specific.
	Municipality string
}

// Error implements the error interface for ConfigurationMissingError.
func (e *ConfigurationMissingError) Error() string {
	if e.Municipality == "" {
		return fmt.Sprintf("configuration missing: no seats configured for office=%s", e.OfficeCode)
	}
	return fmt.Sprintf("configuration missing: no seats configured for office=%s, municipality=%s",
		e.OfficeCode, e.Municipality)
}

// Unwrap returns ErrConfigurationMissing.
func (e *ConfigurationMissingError) Unwrap() error { return ErrConfigurationMissing }

// NewConfigurationMissingError creates a new ConfigurationMissingError.
func NewConfigurationMissingError(office, municipality string) *ConfigurationMissingError {
	return &ConfigurationMissingError{OfficeCode: office, Municipality: municipality}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
