package heatmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-tally/internal/domain"
)

func weights(ws []domain.HeatmapWeight) []float64 {
	out := make([]float64, len(ws))
	for i, w := range ws {
		out[i] = w.Weight
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"scales by max", []float64{50, 100, 25}, []float64{0.5, 1, 0.25}},
		{"all zero", []float64{0, 0}, []float64{0, 0}},
		{"ties at max", []float64{3, 3, 1.5}, []float64{1, 1, 0.5}},
		{"negative clamps", []float64{-4, 8}, []float64{0, 1}},
		{"non finite ignored", []float64{math.NaN(), math.Inf(1), 2}, []float64{0, 0, 1}},
		{"empty", nil, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]Value, len(tt.in))
			for i, v := range tt.in {
				in[i] = Value{Geography: string(rune('a' + i)), Value: v}
			}

			got := Normalize(in)

			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i].Weight, 1e-12)
				assert.GreaterOrEqual(t, got[i].Weight, 0.0)
				assert.LessOrEqual(t, got[i].Weight, 1.0)
			}
		})
	}
}

func TestNormalize_DependsOnActiveSet(t *testing.T) {
	all := []Value{{"Recife", 200}, {"Olinda", 100}, {"Caruaru", 50}}

	assert.Equal(t, []float64{1, 0.5, 0.25}, weights(Normalize(all)))
	assert.Equal(t, []float64{1, 0.5}, weights(Normalize(all[1:])),
		"dropping the max unit rescales the rest")
}

func TestFromSummaries(t *testing.T) {
	vals := FromSummaries([]domain.GeoSummary{
		{Level: domain.LevelMunicipality, Municipality: "Recife", AbstentionRate: 0.3},
	}, domain.MetricAbstentionRate)

	require.Len(t, vals, 1)
	assert.Equal(t, Value{Geography: "Recife", Value: 0.3}, vals[0])
}
