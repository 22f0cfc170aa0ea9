package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() BallotRecord {
	return BallotRecord{
		ElectionYear:     2020,
		Round:            1,
		OfficeCode:       "mayor",
		CandidateID:      "10",
		CandidateName:    "Ana",
		PartyCode:        "PX",
		StateCode:        "PE",
		MunicipalityName: "Olinda",
		ZoneNumber:       7,
		SectionNumber:    101,
		VoteCount:        30,
		EligibleVoters:   100,
		TurnoutCount:     80,
		AbstentionCount:  20,
	}
}

func TestBallotRecord_Validate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(r *BallotRecord)
		wantField  string
		wantReason string
	}{
		{name: "valid record passes", mutate: func(r *BallotRecord) {}},
		{
			name:       "negative vote count",
			mutate:     func(r *BallotRecord) { r.VoteCount = -1 },
			wantField:  "vote_count",
			wantReason: "negative",
		},
		{
			name:       "turnout above eligible",
			mutate:     func(r *BallotRecord) { r.TurnoutCount = 101 },
			wantField:  "turnout_count",
			wantReason: "exceeds_eligible",
		},
		{
			name:       "round out of range",
			mutate:     func(r *BallotRecord) { r.Round = 3 },
			wantField:  "round",
			wantReason: "out_of_range",
		},
		{
			name:       "missing office",
			mutate:     func(r *BallotRecord) { r.OfficeCode = "" },
			wantField:  "office_code",
			wantReason: "missing",
		},
		{
			name:       "missing candidate",
			mutate:     func(r *BallotRecord) { r.CandidateID = "" },
			wantField:  "candidate_id",
			wantReason: "missing",
		},
		{
			name:       "negative abstention",
			mutate:     func(r *BallotRecord) { r.AbstentionCount = -5 },
			wantField:  "abstention_count",
			wantReason: "negative",
		},
		{
			name:       "zero year",
			mutate:     func(r *BallotRecord) { r.ElectionYear = 0 },
			wantField:  "election_year",
			wantReason: "non_positive",
		},
		{
			name:       "null measure from the store",
			mutate:     func(r *BallotRecord) { r.Missing = "eligible_voters"; r.EligibleVoters = 0 },
			wantField:  "eligible_voters",
			wantReason: "missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)

			err := r.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRecord))

			var recErr *RecordError
			require.True(t, errors.As(err, &recErr))
			assert.Equal(t, tt.wantField, recErr.Field)
			assert.Equal(t, tt.wantReason, recErr.Reason)
		})
	}
}

func TestBallotRecord_Keys(t *testing.T) {
	r := validRecord()

	assert.Equal(t, SectionKey{Municipality: "Olinda", Zone: 7, Section: 101}, r.SectionKey())

	ctx := r.ContextKey()
	assert.Equal(t, r.SectionKey(), ctx.SectionKey)
	assert.Equal(t, "mayor", ctx.OfficeCode)
	assert.Equal(t, 2020, ctx.ElectionYear)
	assert.Equal(t, 1, ctx.Round)

	// Two candidate rows of the same section share a context key.
	other := r
	other.CandidateID = "20"
	assert.Equal(t, r.ContextKey(), other.ContextKey())
}

func TestBallotRecord_IsCandidate(t *testing.T) {
	r := validRecord()
	assert.True(t, r.IsCandidate())

	r.CandidateID = BlankOption
	assert.False(t, r.IsCandidate())

	r.CandidateID = NullOption
	assert.False(t, r.IsCandidate())
}

func TestFilter_Validate(t *testing.T) {
	t.Run("valid filter", func(t *testing.T) {
		f := Filter{ElectionYear: 2022, Round: 2, OfficeCode: "governor", StateCode: "SP"}
		assert.NoError(t, f.Validate())
	})

	t.Run("missing fields are listed", func(t *testing.T) {
		err := Filter{Round: 3}.Validate()

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidFilter))
		assert.Contains(t, err.Error(), "ElectionYear(required)")
		assert.Contains(t, err.Error(), "Round(oneof)")
		assert.Contains(t, err.Error(), "OfficeCode(required)")
	})
}

func TestFilter_Matches(t *testing.T) {
	r := validRecord()

	assert.True(t, Filter{ElectionYear: 2020, Round: 1, OfficeCode: "mayor"}.Matches(r))
	assert.True(t, Filter{ElectionYear: 2020, Round: 1, OfficeCode: "mayor", Municipality: "Olinda"}.Matches(r))
	assert.False(t, Filter{ElectionYear: 2020, Round: 2, OfficeCode: "mayor"}.Matches(r))
	assert.False(t, Filter{ElectionYear: 2020, Round: 1, OfficeCode: "mayor", StateCode: "SP"}.Matches(r))
	assert.Equal(t, "2020/r1/mayor/PE", Filter{ElectionYear: 2020, Round: 1, OfficeCode: "mayor", StateCode: "PE"}.String())
}
