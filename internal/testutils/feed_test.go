package testutils

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

func TestGenerateFeed(t *testing.T) {
	cfg := DefaultFeedConfig()
	rows := GenerateFeed(cfg, 42)

	sections := cfg.Municipalities * cfg.ZonesPerMunicipality * cfg.SectionsPerZone
	require.Len(t, rows, sections*(cfg.Candidates+2))

	perSection := make(map[domain.SectionKey]int64)
	for _, r := range rows {
		require.NoError(t, r.Validate())
		assert.Equal(t, r.EligibleVoters, r.TurnoutCount+r.AbstentionCount)
		perSection[r.SectionKey()] += r.VoteCount
	}
	for _, r := range rows {
		assert.Equal(t, r.TurnoutCount, perSection[r.SectionKey()], "votes in a section add up to turnout")
	}

	assert.Equal(t, rows, GenerateFeed(cfg, 42), "same seed, same feed")
}

func TestParticipationFor_SumsSectionsOnce(t *testing.T) {
	cfg := DefaultFeedConfig()
	rows := GenerateFeed(cfg, 7)

	var eligible int64
	seen := make(map[domain.SectionKey]bool)
	for _, r := range rows {
		if !seen[r.SectionKey()] {
			seen[r.SectionKey()] = true
			eligible += r.EligibleVoters
		}
	}

	parts := ParticipationFor(rows)
	require.Len(t, parts, cfg.Municipalities*cfg.ZonesPerMunicipality)

	var got int64
	for _, p := range parts {
		got += p.EligibleVoters
	}
	assert.Equal(t, eligible, got)
}

func TestMunicipalityName(t *testing.T) {
	assert.Equal(t, "Recife", MunicipalityName(0))
	assert.Equal(t, "Recife 2", MunicipalityName(len(municipalityNames)))
}

func TestFlakyFetcher(t *testing.T) {
	next := ports.PageFetcherFunc(func(context.Context, domain.Filter, int, int) ([]domain.BallotRecord, error) {
		return []domain.BallotRecord{{CandidateID: "10"}}, nil
	})
	boom := errors.New("boom")
	f := NewFlakyFetcher(next, 2, boom)

	for range 2 {
		_, err := f.FetchPage(context.Background(), domain.Filter{}, 0, 10)
		assert.ErrorIs(t, err, boom)
	}
	rows, err := f.FetchPage(context.Background(), domain.Filter{}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 3, f.Calls(0))
	assert.Equal(t, 0, f.Calls(10))
}
