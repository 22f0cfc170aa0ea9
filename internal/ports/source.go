// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/ahrav/go-tally/internal/domain"
)

// PageFetcher reads one bounded page of raw tally rows from a remote
// tabular store.
//
// Implementations must be pure reads: requesting the same filter, offset and
// limit twice returns the same rows, so a failed page can be retried at the
// same offset. Rows must come back in a stable order across pages.
type PageFetcher interface {
	// FetchPage returns at most limit rows starting at offset. A page with
	// fewer than limit rows marks the end of the data.
	//
	// Example:
	//
	//	rows, err := fetcher.FetchPage(ctx, filter, 0, 500)
	//	if err != nil {
	//	    return fmt.Errorf("page 0: %w", err)
	//	}
	FetchPage(ctx context.Context, filter domain.Filter, offset, limit int) ([]domain.BallotRecord, error)
}

// PageFetcherFunc adapts a function to the PageFetcher interface.
type PageFetcherFunc func(ctx context.Context, filter domain.Filter, offset, limit int) ([]domain.BallotRecord, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, filter domain.Filter, offset, limit int) ([]domain.BallotRecord, error) {
	return f(ctx, filter, offset, limit)
}

// ParticipationSource reads the auxiliary participation table, which
// carries turnout figures keyed by (state, municipality, year, round)
// independently of candidate rows.
type ParticipationSource interface {
	FetchParticipation(ctx context.Context, filter domain.Filter) ([]domain.ParticipationRow, error)
}

// SeatTable resolves the number of seats contested for an office, and for
// city-council style offices, for a municipality. It is static
// configuration, never computed.
type SeatTable interface {
	// SeatsFor returns the seat count or a *domain.ConfigurationMissingError.
	// An empty municipality asks for the office-wide value.
	SeatsFor(officeCode, municipality string) (int, error)

	// PerMunicipality reports whether the office is ranked separately in
	// each municipality.
	PerMunicipality(officeCode string) bool
}
