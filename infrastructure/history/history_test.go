package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-tally/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"São José do Egito", "sao jose do egito"},
		{"  SÃO   JOSÉ do egito ", "sao jose do egito"},
		{"Itaú", "itau"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, "caruaru", Normalize("Caruarú"))
			}
		}()
	}
	wg.Wait()
}

func TestCompare_TrendClassification(t *testing.T) {
	c := New(Config{})
	require.Equal(t, DefaultThreshold, c.Threshold())

	tests := []struct {
		name      string
		base, cur float64
		trend     domain.TrendClass
		pct       *float64
	}{
		{"rising", 100, 110, domain.TrendRising, ptr(10)},
		{"falling", 100, 90, domain.TrendFalling, ptr(-10)},
		{"stable inside band", 100, 104, domain.TrendStable, ptr(4)},
		{"exactly at threshold is stable", 100, 105, domain.TrendStable, ptr(5)},
		{"zero baseline with growth", 0, 30, domain.TrendRising, nil},
		{"zero baseline and zero current", 0, 0, domain.TrendStable, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Compare(
				[]Measure{{Geography: "Recife", Value: tt.base}},
				[]Measure{{Geography: "Recife", Value: tt.cur}},
			)
			require.Len(t, res.Deltas, 1)
			d := res.Deltas[0]

			assert.Equal(t, tt.trend, d.TrendClass)
			assert.InDelta(t, tt.cur-tt.base, d.AbsoluteDelta, 1e-9)
			if tt.pct == nil {
				assert.Nil(t, d.PercentDelta, "percent delta is undefined for a zero baseline")
			} else {
				require.NotNil(t, d.PercentDelta)
				assert.InDelta(t, *tt.pct, *d.PercentDelta, 1e-9)
			}
			assert.Equal(t, domain.DeltaMatched, d.State)
		})
	}
}

func TestCompare_ConfigurableThreshold(t *testing.T) {
	strict := New(Config{Threshold: 1})
	res := strict.Compare([]Measure{{Geography: "Recife", Value: 100}}, []Measure{{Geography: "Recife", Value: 103}})
	assert.Equal(t, domain.TrendRising, res.Deltas[0].TrendClass)

	loose := New(Config{Threshold: 20})
	res = loose.Compare([]Measure{{Geography: "Recife", Value: 100}}, []Measure{{Geography: "Recife", Value: 85}})
	assert.Equal(t, domain.TrendStable, res.Deltas[0].TrendClass)
}

func TestCompare_UnmatchedAreReported(t *testing.T) {
	c := New(Config{})
	baseline := []Measure{
		{Geography: "São José", Value: 10},
		{Geography: "Vila Velha", Value: 7},
	}
	current := []Measure{
		{Geography: "SAO JOSE", Value: 12},
		{Geography: "Nova Cidade", Value: 3},
	}

	res := c.Compare(baseline, current)

	require.Len(t, res.Deltas, 1)
	assert.Equal(t, "SAO JOSE", res.Deltas[0].Geography)
	assert.Equal(t, "sao jose", res.Deltas[0].JoinKey)
	assert.Equal(t, MatchExact, res.Deltas[0].MatchedBy)

	require.Len(t, res.NoBaseline, 1)
	assert.Equal(t, "Nova Cidade", res.NoBaseline[0].Geography)
	assert.Equal(t, domain.DeltaNoBaseline, res.NoBaseline[0].State)
	assert.Nil(t, res.NoBaseline[0].PercentDelta)

	require.Len(t, res.Discontinued, 1)
	assert.Equal(t, "Vila Velha", res.Discontinued[0].Geography)
	assert.InDelta(t, -7, res.Discontinued[0].AbsoluteDelta, 1e-9)

	assert.Len(t, res.All(), 4)

	_, err := res.Lookup("nova cidade")
	assert.ErrorIs(t, err, domain.ErrNoBaseline)
	_, err = res.Lookup("vila velha")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	d, err := res.Lookup("sao jose")
	require.NoError(t, err)
	assert.InDelta(t, 2, d.AbsoluteDelta, 1e-9)
}

func TestCompare_EmptySides(t *testing.T) {
	res := New(Config{}).Compare(nil, nil)
	assert.Empty(t, res.Deltas)
	assert.Empty(t, res.NoBaseline)
	assert.Empty(t, res.Discontinued)

	res = New(Config{}).Compare(nil, []Measure{{Geography: "Recife", Value: 1}})
	assert.Len(t, res.NoBaseline, 1)
}

func TestCompare_DuplicateKeysAreSummed(t *testing.T) {
	res := New(Config{}).Compare(
		[]Measure{{Geography: "Recife", Value: 40}, {Geography: "RECIFE", Value: 60}},
		[]Measure{{Geography: "Recife", Value: 100}},
	)
	require.Len(t, res.Deltas, 1)
	assert.InDelta(t, 100, res.Deltas[0].Baseline, 1e-9)
	assert.Equal(t, domain.TrendStable, res.Deltas[0].TrendClass)
}

func TestCompare_FuzzyFallback(t *testing.T) {
	baseline := []Measure{
		{Geography: "Cabo de Santo Agostinho", Value: 10},
		{Geography: "Itambé", Value: 4},
		{Geography: "Itambi", Value: 5},
	}
	current := []Measure{
		{Geography: "Cabo de Sto Agostinho", Value: 11},
		{Geography: "Itambu", Value: 5},
	}

	t.Run("disabled by default", func(t *testing.T) {
		res := New(Config{}).Compare(baseline, current)
		assert.Empty(t, res.Deltas)
		assert.Len(t, res.NoBaseline, 2)
	})

	t.Run("pairs unique nearest and skips ties", func(t *testing.T) {
		res := New(Config{FuzzyMaxDistance: 3}).Compare(baseline, current)

		require.Len(t, res.Deltas, 1)
		assert.Equal(t, "Cabo de Sto Agostinho", res.Deltas[0].Geography)
		assert.Equal(t, MatchFuzzy, res.Deltas[0].MatchedBy)

		require.Len(t, res.NoBaseline, 1, "itambu is equally close to itambe and itambi")
		assert.Equal(t, "Itambu", res.NoBaseline[0].Geography)
		assert.Len(t, res.Discontinued, 2)
	})
}

func TestGeoMeasures(t *testing.T) {
	summaries := []domain.GeoSummary{
		{Level: domain.LevelMunicipality, Municipality: "Recife", TurnoutCount: 80, ParticipationRate: 0.8},
		{Level: domain.LevelZone, Municipality: "Recife", Zone: "2", TurnoutCount: 20, ParticipationRate: 0.5},
	}

	got := GeoMeasures(summaries, domain.MetricTurnout)
	assert.Equal(t, []Measure{
		{Geography: "Recife", Value: 80},
		{Geography: "Recife / zone 2", Value: 20},
	}, got)

	got = GeoMeasures(summaries, domain.MetricParticipationRate)
	assert.InDelta(t, 0.5, got[1].Value, 1e-12)
}

func TestCandidateMeasures(t *testing.T) {
	got := CandidateMeasures([]domain.CandidateResult{
		{CandidateID: "13", CandidateName: "Ana", Municipality: "Recife", TotalVotes: 10},
		{CandidateID: "45", TotalVotes: 5},
	})
	assert.Equal(t, "Recife / Ana", got[0].Geography)
	assert.Equal(t, "45", got[1].Geography)
	assert.InDelta(t, 10, got[0].Value, 1e-9)
}

func ptr(f float64) *float64 { return &f }
