// Package geo derives participation figures per geographic unit from
// section-deduplicated aggregates.
package geo

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ahrav/go-tally/infrastructure/aggregate"
	"github.com/ahrav/go-tally/internal/domain"
)

// Rate returns num/den clamped to [0,1], or 0 when den is 0.
func Rate(num, den int64) float64 {
	if den <= 0 || num <= 0 {
		return 0
	}
	r := float64(num) / float64(den)
	if r > 1 {
		return 1
	}
	return r
}

func withRates(s domain.GeoSummary) domain.GeoSummary {
	s.ParticipationRate = Rate(s.TurnoutCount, s.EligibleVoters)
	s.AbstentionRate = Rate(s.AbstentionCount, s.EligibleVoters)
	return s
}

// Rollup turns a geographic table into summaries at level. The table must
// have been folded with level.Spec(). Summaries are ordered by
// municipality, then zone and section number.
func Rollup(tbl *aggregate.Table, level domain.GeoLevel, year, round int) ([]domain.GeoSummary, error) {
	spec := level.Spec()
	if tbl.Spec().String() != spec.String() {
		return nil, fmt.Errorf("%w: %s rollup needs a %q table, got %q",
			domain.ErrInvalidConfiguration, level, spec.String(), tbl.Spec().String())
	}

	groups := tbl.Groups()
	out := make([]domain.GeoSummary, 0, len(groups))
	for _, g := range groups {
		s := domain.GeoSummary{
			Level:           level,
			Municipality:    spec.Value(g.Key, domain.DimMunicipality),
			ElectionYear:    year,
			Round:           round,
			EligibleVoters:  g.EligibleVoters,
			TurnoutCount:    g.TurnoutCount,
			AbstentionCount: g.AbstentionCount,
			Sections:        g.Sections,
		}
		if level != domain.LevelMunicipality {
			s.Zone = spec.Value(g.Key, domain.DimZone)
		}
		if level == domain.LevelSection {
			s.Section = spec.Value(g.Key, domain.DimSection)
		}
		out = append(out, withRates(s))
	}
	sortSummaries(out)
	return out, nil
}

// FromParticipation rolls the auxiliary participation table up to level.
// Only municipality and zone levels are available there.
func FromParticipation(rows []domain.ParticipationRow, level domain.GeoLevel) ([]domain.GeoSummary, error) {
	if level == domain.LevelSection {
		return nil, fmt.Errorf("%w: participation table has no section granularity", domain.ErrInvalidConfiguration)
	}

	type key struct{ mun, zone string }
	acc := make(map[key]*domain.GeoSummary)
	for _, r := range rows {
		k := key{mun: unknownIfEmpty(r.MunicipalityName)}
		if level == domain.LevelZone {
			k.zone = domain.UnknownValue
			if r.ZoneNumber > 0 {
				k.zone = strconv.Itoa(r.ZoneNumber)
			}
		}
		s, ok := acc[k]
		if !ok {
			s = &domain.GeoSummary{
				Level:        level,
				Municipality: k.mun,
				Zone:         k.zone,
				ElectionYear: r.ElectionYear,
				Round:        r.Round,
			}
			acc[k] = s
		}
		s.EligibleVoters += r.EligibleVoters
		s.TurnoutCount += r.TurnoutCount
		s.AbstentionCount += r.AbstentionCount
	}

	out := make([]domain.GeoSummary, 0, len(acc))
	for _, s := range acc {
		out = append(out, withRates(*s))
	}
	sortSummaries(out)
	return out, nil
}

// Overall sums summaries into one. It returns nil for no summaries, so an
// empty report has no rate at all rather than a zero one.
func Overall(summaries []domain.GeoSummary) *domain.GeoSummary {
	if len(summaries) == 0 {
		return nil
	}
	total := domain.GeoSummary{
		Level:        summaries[0].Level,
		Municipality: "all",
		ElectionYear: summaries[0].ElectionYear,
		Round:        summaries[0].Round,
	}
	for _, s := range summaries {
		total.EligibleVoters += s.EligibleVoters
		total.TurnoutCount += s.TurnoutCount
		total.AbstentionCount += s.AbstentionCount
		total.Sections += s.Sections
	}
	total = withRates(total)
	return &total
}

func unknownIfEmpty(s string) string {
	if s == "" {
		return domain.UnknownValue
	}
	return s
}

// sortSummaries orders by municipality, then numerically by zone and
// section, with the unknown bucket last.
func sortSummaries(out []domain.GeoSummary) {
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Municipality != b.Municipality {
			return lessName(a.Municipality, b.Municipality)
		}
		if a.Zone != b.Zone {
			return lessNumber(a.Zone, b.Zone)
		}
		return lessNumber(a.Section, b.Section)
	})
}

func lessName(a, b string) bool {
	if a == domain.UnknownValue || b == domain.UnknownValue {
		return b == domain.UnknownValue && a != domain.UnknownValue
	}
	return a < b
}

func lessNumber(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
