package geo

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-tally/infrastructure/aggregate"
	"github.com/ahrav/go-tally/internal/domain"
)

type sliceIter struct {
	recs []domain.FlaggedRecord
	pos  int
}

func (s *sliceIter) Next() bool {
	if s.pos >= len(s.recs) {
		return false
	}
	s.pos++
	return true
}
func (s *sliceIter) Record() domain.FlaggedRecord { return s.recs[s.pos-1] }
func (s *sliceIter) Err() error                   { return nil }

func flagged(rows []domain.BallotRecord) *sliceIter {
	seen := map[domain.SectionKey]bool{}
	it := &sliceIter{}
	for i, r := range rows {
		first := !seen[r.SectionKey()]
		seen[r.SectionKey()] = true
		it.recs = append(it.recs, domain.FlaggedRecord{BallotRecord: r, FirstOccurrence: first, Seq: int64(i)})
	}
	return it
}

func row(mun string, zone, section int, cand string, votes, eligible, turnout int64) domain.BallotRecord {
	return domain.BallotRecord{
		ElectionYear: 2020, Round: 1, OfficeCode: "mayor", CandidateID: cand,
		MunicipalityName: mun, ZoneNumber: zone, SectionNumber: section,
		VoteCount: votes, EligibleVoters: eligible, TurnoutCount: turnout, AbstentionCount: eligible - turnout,
	}
}

func foldLevels(t *testing.T, rows []domain.BallotRecord) *aggregate.Result {
	t.Helper()
	a, err := aggregate.New([]domain.GroupSpec{domain.ByMunicipality, domain.ByZone, domain.BySection})
	require.NoError(t, err)
	res, err := a.Fold(context.Background(), flagged(rows))
	require.NoError(t, err)
	return res
}

func rollup(t *testing.T, res *aggregate.Result, level domain.GeoLevel) []domain.GeoSummary {
	t.Helper()
	tbl, ok := res.Table(level.Spec())
	require.True(t, ok)
	out, err := Rollup(tbl, level, 2020, 1)
	require.NoError(t, err)
	return out
}

func TestRate(t *testing.T) {
	tests := []struct {
		num, den int64
		want     float64
	}{
		{80, 100, 0.8},
		{0, 100, 0},
		{10, 0, 0},
		{0, 0, 0},
		{150, 100, 1},
		{-5, 100, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.num, tt.den), func(t *testing.T) {
			assert.InDelta(t, tt.want, Rate(tt.num, tt.den), 1e-12)
		})
	}
}

func TestRollup_ThreeSectionScenario(t *testing.T) {
	rows := []domain.BallotRecord{
		row("Recife", 1, 1, "A", 30, 100, 80),
		row("Recife", 1, 1, "B", 20, 100, 80),
		row("Recife", 1, 2, "A", 20, 100, 80),
		row("Recife", 1, 2, "B", 10, 100, 80),
		row("Recife", 1, 3, "A", 10, 100, 80),
		row("Recife", 1, 3, "B", 5, 100, 80),
	}
	res := foldLevels(t, rows)

	mun := rollup(t, res, domain.LevelMunicipality)
	require.Len(t, mun, 1)
	assert.Equal(t, int64(300), mun[0].EligibleVoters)
	assert.Equal(t, int64(240), mun[0].TurnoutCount)
	assert.Equal(t, int64(60), mun[0].AbstentionCount)
	assert.Equal(t, 3, mun[0].Sections)
	assert.InDelta(t, 0.8, mun[0].ParticipationRate, 1e-12)
	assert.InDelta(t, 0.2, mun[0].AbstentionRate, 1e-12)
	assert.Equal(t, "Recife", mun[0].Name())
}

func TestRollup_UnitEqualsSumOfSections(t *testing.T) {
	var rows []domain.BallotRecord
	for m, mun := range []string{"Recife", "Olinda", "Caruaru"} {
		for z := 1; z <= 3; z++ {
			for s := 1; s <= 4; s++ {
				eligible := int64(50 + 10*m + 3*z + s)
				turnout := eligible - int64(s+z)
				for _, c := range []string{"A", "B", "95"} {
					rows = append(rows, row(mun, z, s, c, int64(s*z), eligible, turnout))
				}
			}
		}
	}
	res := foldLevels(t, rows)

	munSummaries := rollup(t, res, domain.LevelMunicipality)
	zoneSummaries := rollup(t, res, domain.LevelZone)
	sectionSummaries := rollup(t, res, domain.LevelSection)
	require.Len(t, munSummaries, 3)
	require.Len(t, zoneSummaries, 9)
	require.Len(t, sectionSummaries, 36)

	for _, m := range munSummaries {
		var zoneSum, sectionSum domain.GeoSummary
		for _, z := range zoneSummaries {
			if z.Municipality == m.Municipality {
				zoneSum.EligibleVoters += z.EligibleVoters
				zoneSum.TurnoutCount += z.TurnoutCount
				zoneSum.AbstentionCount += z.AbstentionCount
			}
		}
		for _, s := range sectionSummaries {
			if s.Municipality == m.Municipality {
				sectionSum.EligibleVoters += s.EligibleVoters
				sectionSum.TurnoutCount += s.TurnoutCount
				sectionSum.AbstentionCount += s.AbstentionCount
			}
		}
		assert.Equal(t, m.EligibleVoters, zoneSum.EligibleVoters, m.Municipality)
		assert.Equal(t, m.EligibleVoters, sectionSum.EligibleVoters, m.Municipality)
		assert.Equal(t, m.TurnoutCount, sectionSum.TurnoutCount, m.Municipality)
		assert.Equal(t, m.AbstentionCount, sectionSum.AbstentionCount, m.Municipality)
	}

	for _, s := range append(append(munSummaries, zoneSummaries...), sectionSummaries...) {
		assert.GreaterOrEqual(t, s.ParticipationRate, 0.0)
		assert.LessOrEqual(t, s.ParticipationRate, 1.0)
		assert.GreaterOrEqual(t, s.AbstentionRate, 0.0)
		assert.LessOrEqual(t, s.AbstentionRate, 1.0)
	}

	assert.Equal(t, "Caruaru", munSummaries[0].Municipality, "summaries sorted by name")
	assert.Equal(t, "1", zoneSummaries[0].Zone)
	assert.Equal(t, "Caruaru / zone 1 / section 1", sectionSummaries[0].Name())
}

func TestRollup_SpecMismatch(t *testing.T) {
	res := foldLevels(t, []domain.BallotRecord{row("Recife", 1, 1, "A", 1, 1, 1)})
	tbl, _ := res.Table(domain.ByMunicipality)

	_, err := Rollup(tbl, domain.LevelZone, 2020, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestRollup_ZeroEligible(t *testing.T) {
	res := foldLevels(t, []domain.BallotRecord{row("Recife", 0, 0, "A", 5, 0, 0)})
	out := rollup(t, res, domain.LevelZone)

	require.Len(t, out, 1)
	assert.Equal(t, domain.UnknownValue, out[0].Zone)
	assert.Zero(t, out[0].ParticipationRate)
	assert.Zero(t, out[0].AbstentionRate)
}

func TestFromParticipation(t *testing.T) {
	rows := []domain.ParticipationRow{
		{MunicipalityName: "Recife", ZoneNumber: 1, ElectionYear: 2020, Round: 1, EligibleVoters: 100, TurnoutCount: 70, AbstentionCount: 30},
		{MunicipalityName: "Recife", ZoneNumber: 2, ElectionYear: 2020, Round: 1, EligibleVoters: 100, TurnoutCount: 90, AbstentionCount: 10},
		{MunicipalityName: "", ElectionYear: 2020, Round: 1, EligibleVoters: 10, TurnoutCount: 5, AbstentionCount: 5},
	}

	mun, err := FromParticipation(rows, domain.LevelMunicipality)
	require.NoError(t, err)
	require.Len(t, mun, 2)
	assert.Equal(t, "Recife", mun[0].Municipality)
	assert.Equal(t, int64(200), mun[0].EligibleVoters)
	assert.InDelta(t, 0.8, mun[0].ParticipationRate, 1e-12)
	assert.Equal(t, domain.UnknownValue, mun[1].Municipality, "unknown bucket sorts last")

	zones, err := FromParticipation(rows, domain.LevelZone)
	require.NoError(t, err)
	assert.Len(t, zones, 3)

	_, err = FromParticipation(rows, domain.LevelSection)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestOverall(t *testing.T) {
	assert.Nil(t, Overall(nil), "no units means no rate, not a zero rate")

	total := Overall([]domain.GeoSummary{
		{Level: domain.LevelMunicipality, EligibleVoters: 100, TurnoutCount: 80, AbstentionCount: 20, Sections: 2},
		{Level: domain.LevelMunicipality, EligibleVoters: 300, TurnoutCount: 120, AbstentionCount: 180, Sections: 3},
	})
	require.NotNil(t, total)
	assert.Equal(t, int64(400), total.EligibleVoters)
	assert.Equal(t, 5, total.Sections)
	assert.InDelta(t, 0.5, total.ParticipationRate, 1e-12)
	assert.InDelta(t, 0.5, total.AbstentionRate, 1e-12)
}
