// Package history aligns aggregates from two independent report runs on
// geography and classifies the change between them.
package history

import (
	"github.com/agnivade/levenshtein"

	"github.com/ahrav/go-tally/internal/domain"
)

// DefaultThreshold is the percent change beyond which a delta is rising or
// falling.
const DefaultThreshold = 5.0

// Match methods reported in HistoricalDelta.MatchedBy.
const (
	MatchExact = "exact"
	MatchFuzzy = "fuzzy"
)

// Config tunes a Comparator.
type Config struct {
	// Threshold is the trend threshold in percent. Zero means the default.
	Threshold float64 `yaml:"threshold" validate:"gte=0,lte=100"`

	// FuzzyMaxDistance enables edit-distance matching of geographies left
	// unmatched by exact key. Zero disables it.
	FuzzyMaxDistance int `yaml:"fuzzy_max_distance" validate:"gte=0,lte=10"`
}

// Measure is one geography's value on one side of a comparison.
type Measure struct {
	Geography string
	// Key overrides the join key. When empty, Normalize(Geography) is used.
	Key   string
	Value float64
}

func (m Measure) joinKey() string {
	if m.Key != "" {
		return m.Key
	}
	return Normalize(m.Geography)
}

// Comparator joins two measure sets.
type Comparator struct {
	threshold   float64
	maxDistance int
}

// New creates a Comparator.
func New(cfg Config) *Comparator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Comparator{threshold: cfg.Threshold, maxDistance: cfg.FuzzyMaxDistance}
}

// Threshold returns the effective trend threshold.
func (c *Comparator) Threshold() float64 { return c.threshold }

type side struct {
	key     string
	name    string
	value   float64
	matched bool
}

// collect merges measures sharing a join key, keeping first-seen order.
func collect(ms []Measure) []*side {
	idx := make(map[string]*side, len(ms))
	var out []*side
	for _, m := range ms {
		k := m.joinKey()
		if s, ok := idx[k]; ok {
			s.value += m.Value
			continue
		}
		s := &side{key: k, name: m.Geography, value: m.Value}
		idx[k] = s
		out = append(out, s)
	}
	return out
}

// Compare joins baseline and current by geography. Matched pairs appear in
// current order; current-only geographies are NoBaseline and
// baseline-only ones are Discontinued. Nothing is dropped.
func (c *Comparator) Compare(baseline, current []Measure) domain.Comparison {
	base := collect(baseline)
	cur := collect(current)

	byKey := make(map[string]*side, len(base))
	for _, b := range base {
		byKey[b.key] = b
	}

	pairs := make(map[*side]*side, len(cur))
	method := make(map[*side]string, len(cur))
	for _, s := range cur {
		if b, ok := byKey[s.key]; ok {
			b.matched = true
			pairs[s] = b
			method[s] = MatchExact
		}
	}
	if c.maxDistance > 0 {
		c.fuzzyPair(base, cur, pairs, method)
	}

	result := domain.Comparison{
		Deltas:       []domain.HistoricalDelta{},
		NoBaseline:   []domain.HistoricalDelta{},
		Discontinued: []domain.HistoricalDelta{},
	}
	for _, s := range cur {
		b, ok := pairs[s]
		if !ok {
			result.NoBaseline = append(result.NoBaseline, domain.HistoricalDelta{
				Geography:     s.name,
				JoinKey:       s.key,
				Current:       s.value,
				AbsoluteDelta: s.value,
				State:         domain.DeltaNoBaseline,
			})
			continue
		}
		d := c.delta(b.value, s.value)
		d.Geography = s.name
		d.JoinKey = s.key
		d.MatchedBy = method[s]
		result.Deltas = append(result.Deltas, d)
	}
	for _, b := range base {
		if b.matched {
			continue
		}
		result.Discontinued = append(result.Discontinued, domain.HistoricalDelta{
			Geography:     b.name,
			JoinKey:       b.key,
			Baseline:      b.value,
			AbsoluteDelta: -b.value,
			State:         domain.DeltaDiscontinued,
		})
	}
	return result
}

// fuzzyPair pairs leftover geographies whose keys are mutual unique
// nearest neighbours within the configured edit distance. Ties are left
// unmatched rather than guessed.
func (c *Comparator) fuzzyPair(base, cur []*side, pairs map[*side]*side, method map[*side]string) {
	for _, s := range cur {
		if pairs[s] != nil {
			continue
		}
		b := c.nearest(s.key, base, func(x *side) bool { return !x.matched })
		if b == nil {
			continue
		}
		back := c.nearest(b.key, cur, func(x *side) bool { return pairs[x] == nil })
		if back != s {
			continue
		}
		b.matched = true
		pairs[s] = b
		method[s] = MatchFuzzy
	}
}

// nearest returns the single eligible side closest to key within the
// distance limit, or nil when there is none or the closest is tied.
func (c *Comparator) nearest(key string, pool []*side, eligible func(*side) bool) *side {
	var best *side
	bestDist, tied := c.maxDistance+1, false
	for _, x := range pool {
		if !eligible(x) {
			continue
		}
		d := levenshtein.ComputeDistance(key, x.key)
		switch {
		case d < bestDist:
			best, bestDist, tied = x, d, false
		case d == bestDist:
			tied = true
		}
	}
	if best == nil || tied {
		return nil
	}
	return best
}

// delta computes the change from baseline to current. With a zero
// baseline the percent change is undefined.
func (c *Comparator) delta(baseline, current float64) domain.HistoricalDelta {
	d := domain.HistoricalDelta{
		Baseline:      baseline,
		Current:       current,
		AbsoluteDelta: current - baseline,
		State:         domain.DeltaMatched,
	}

	if baseline == 0 {
		d.TrendClass = domain.TrendStable
		if current > 0 {
			d.TrendClass = domain.TrendRising
		}
		return d
	}

	pct := d.AbsoluteDelta / baseline * 100
	d.PercentDelta = &pct
	switch {
	case pct > c.threshold:
		d.TrendClass = domain.TrendRising
	case pct < -c.threshold:
		d.TrendClass = domain.TrendFalling
	default:
		d.TrendClass = domain.TrendStable
	}
	return d
}

// GeoMeasures extracts metric from each summary, keyed by its display
// name.
func GeoMeasures(summaries []domain.GeoSummary, metric domain.GeoMetric) []Measure {
	out := make([]Measure, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, Measure{Geography: s.Name(), Value: metric.Of(s)})
	}
	return out
}

// CandidateMeasures keys candidate vote totals by municipality and
// candidate name, so the same candidate running again in the same place
// lines up across years.
func CandidateMeasures(results []domain.CandidateResult) []Measure {
	out := make([]Measure, 0, len(results))
	for _, r := range results {
		name := r.CandidateName
		if name == "" {
			name = r.CandidateID
		}
		if r.Municipality != "" {
			name = r.Municipality + " / " + name
		}
		out = append(out, Measure{Geography: name, Value: float64(r.TotalVotes)})
	}
	return out
}
