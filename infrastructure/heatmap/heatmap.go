// Package heatmap rescales per-unit metrics into [0,1] intensities.
package heatmap

import (
	"math"

	"github.com/ahrav/go-tally/internal/domain"
)

// Value is one unit's raw metric.
type Value struct {
	Geography string
	Value     float64
}

// Normalize divides each value by the maximum over values. The maximum
// depends on which units are active, so callers must pass exactly the
// active set and normalize again whenever it changes. Non-finite and
// negative values weigh 0; every unit holding the maximum weighs exactly 1.
func Normalize(values []Value) []domain.HeatmapWeight {
	maxV := 0.0
	for _, v := range values {
		if finite(v.Value) && v.Value > maxV {
			maxV = v.Value
		}
	}

	out := make([]domain.HeatmapWeight, len(values))
	for i, v := range values {
		out[i] = domain.HeatmapWeight{Geography: v.Geography, Value: v.Value}
		if maxV <= 0 || !finite(v.Value) || v.Value <= 0 {
			continue
		}
		if v.Value == maxV {
			out[i].Weight = 1
			continue
		}
		out[i].Weight = math.Min(1, v.Value/maxV)
	}
	return out
}

// FromSummaries builds heatmap input from geographic summaries.
func FromSummaries(summaries []domain.GeoSummary, metric domain.GeoMetric) []Value {
	out := make([]Value, len(summaries))
	for i, s := range summaries {
		out[i] = Value{Geography: s.Name(), Value: metric.Of(s)}
	}
	return out
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
