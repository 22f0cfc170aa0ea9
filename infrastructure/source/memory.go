package source

import (
	"context"

	"github.com/ahrav/go-tally/internal/domain"
)

// MemoryFetcher serves pages from an in-memory slice. Rows are kept in
// insertion order, which is the stable order pages are cut from.
type MemoryFetcher struct {
	rows          []domain.BallotRecord
	participation []domain.ParticipationRow
}

// NewMemoryFetcher creates a fetcher over rows.
func NewMemoryFetcher(rows []domain.BallotRecord) *MemoryFetcher {
	return &MemoryFetcher{rows: rows}
}

// WithParticipation attaches participation rows served by
// FetchParticipation.
func (m *MemoryFetcher) WithParticipation(rows []domain.ParticipationRow) *MemoryFetcher {
	m.participation = rows
	return m
}

// FetchPage returns the matching rows in [offset, offset+limit).
func (m *MemoryFetcher) FetchPage(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]domain.BallotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []domain.BallotRecord
	matched := 0
	for _, r := range m.rows {
		if !filter.Matches(r) {
			continue
		}
		if matched >= offset {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
		matched++
	}
	return out, nil
}

// FetchParticipation returns participation rows for the filter's year,
// round, state and municipality.
func (m *MemoryFetcher) FetchParticipation(ctx context.Context, filter domain.Filter) ([]domain.ParticipationRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.ParticipationRow
	for _, p := range m.participation {
		if participationMatches(filter, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func participationMatches(f domain.Filter, p domain.ParticipationRow) bool {
	if p.ElectionYear != f.ElectionYear || p.Round != f.Round {
		return false
	}
	if f.StateCode != "" && p.StateCode != f.StateCode {
		return false
	}
	return f.Municipality == "" || p.MunicipalityName == f.Municipality
}
