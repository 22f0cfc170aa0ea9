package domain

import (
	"fmt"
	"time"
)

// CandidateResult is the derived total for one candidate. Results are
// recomputed on every report request and never mutated incrementally.
type CandidateResult struct {
	// CandidateID is the candidate or option identifier from the feed.
	CandidateID string `json:"candidate_id"`

	// CandidateName is the display name seen on the candidate's first row.
	CandidateName string `json:"candidate_name"`

	// PartyCode is the party seen on the candidate's first row.
	PartyCode string `json:"party_code"`

	// OfficeCode is the contested office.
	OfficeCode string `json:"office_code"`

	// ElectionYear is the year of the election.
	ElectionYear int `json:"election_year"`

	// Municipality is set when candidates are ranked per municipality.
	Municipality string `json:"municipality,omitempty"`

	// TotalVotes is the sum of VoteCount across all matching rows.
	TotalVotes int64 `json:"total_votes"`

	// Rank is the 1-based position by TotalVotes, ties broken by stream order.
	Rank int `json:"rank"`

	// Elected is true for every candidate ranked within the available seats.
	Elected bool `json:"elected"`
}

// SeatAllocation is a ranked candidate list with its cutoff line.
type SeatAllocation struct {
	OfficeCode     string            `json:"office_code"`
	Municipality   string            `json:"municipality,omitempty"`
	SeatsAvailable int               `json:"seats_available"`
	CutoffVotes    int64             `json:"cutoff_votes"`
	Candidates     []CandidateResult `json:"candidates"`
}

// Elected returns the candidates marked elected, in rank order.
func (s SeatAllocation) Elected() []CandidateResult {
	out := make([]CandidateResult, 0, s.SeatsAvailable)
	for _, c := range s.Candidates {
		if c.Elected {
			out = append(out, c)
		}
	}
	return out
}

// PartyResult is the vote total of one party, optionally with seats from a
// quotient apportionment.
type PartyResult struct {
	PartyCode  string `json:"party_code"`
	TotalVotes int64  `json:"total_votes"`
	Rank       int    `json:"rank"`
	Seats      int    `json:"seats,omitempty"`
}

// GeoLevel is the granularity of a geographic rollup.
type GeoLevel string

// Supported rollup granularities.
const (
	LevelMunicipality GeoLevel = "municipality"
	LevelZone         GeoLevel = "zone"
	LevelSection      GeoLevel = "section"
)

// ParseGeoLevel validates a level name.
func ParseGeoLevel(s string) (GeoLevel, error) {
	switch l := GeoLevel(s); l {
	case LevelMunicipality, LevelZone, LevelSection:
		return l, nil
	}
	return "", fmt.Errorf("%w: unknown geographic level %q", ErrInvalidConfiguration, s)
}

// Spec returns the grouping that produces rollups at this level.
func (l GeoLevel) Spec() GroupSpec {
	switch l {
	case LevelZone:
		return ByZone
	case LevelSection:
		return BySection
	default:
		return ByMunicipality
	}
}

// GeoSummary holds participation figures for one geographic unit. Each
// count is summed once per distinct section.
type GeoSummary struct {
	Level             GeoLevel `json:"level"`
	Municipality      string   `json:"municipality"`
	Zone              string   `json:"zone,omitempty"`
	Section           string   `json:"section,omitempty"`
	ElectionYear      int      `json:"election_year"`
	Round             int      `json:"round"`
	EligibleVoters    int64    `json:"eligible_voters"`
	TurnoutCount      int64    `json:"turnout_count"`
	AbstentionCount   int64    `json:"abstention_count"`
	Sections          int      `json:"sections"`
	ParticipationRate float64  `json:"participation_rate"`
	AbstentionRate    float64  `json:"abstention_rate"`
}

// Name returns the display name of the unit.
func (g GeoSummary) Name() string {
	switch g.Level {
	case LevelZone:
		return g.Municipality + " / zone " + g.Zone
	case LevelSection:
		return g.Municipality + " / zone " + g.Zone + " / section " + g.Section
	default:
		return g.Municipality
	}
}

// TrendClass is a coarse direction label derived by thresholding.
type TrendClass string

// Trend classes.
const (
	TrendRising  TrendClass = "rising"
	TrendStable  TrendClass = "stable"
	TrendFalling TrendClass = "falling"
)

// DeltaState tells whether a geography was present on both sides of a
// comparison.
type DeltaState string

// Delta states.
const (
	DeltaMatched      DeltaState = "matched"
	DeltaNoBaseline   DeltaState = "no_baseline"
	DeltaDiscontinued DeltaState = "discontinued"
)

// HistoricalDelta compares one geography across two independent runs.
type HistoricalDelta struct {
	Geography     string     `json:"geography"`
	JoinKey       string     `json:"join_key"`
	Baseline      float64    `json:"baseline"`
	Current       float64    `json:"current"`
	AbsoluteDelta float64    `json:"absolute_delta"`
	PercentDelta  *float64   `json:"percent_delta"`
	TrendClass    TrendClass `json:"trend_class,omitempty"`
	State         DeltaState `json:"state"`
	MatchedBy     string     `json:"matched_by,omitempty"`
}

// Comparison is the outcome of joining two result sets on geography.
// Unmatched geographies are reported, never dropped.
type Comparison struct {
	Deltas       []HistoricalDelta `json:"deltas"`
	NoBaseline   []HistoricalDelta `json:"no_baseline"`
	Discontinued []HistoricalDelta `json:"discontinued"`
}

// All returns matched, no-baseline and discontinued deltas in that order.
func (c Comparison) All() []HistoricalDelta {
	out := make([]HistoricalDelta, 0, len(c.Deltas)+len(c.NoBaseline)+len(c.Discontinued))
	out = append(out, c.Deltas...)
	out = append(out, c.NoBaseline...)
	return append(out, c.Discontinued...)
}

// Lookup returns the matched delta for a join key. It returns ErrNoBaseline
// when the geography only exists on the current side, and ErrKeyNotFound
// otherwise.
func (c Comparison) Lookup(joinKey string) (HistoricalDelta, error) {
	for _, d := range c.Deltas {
		if d.JoinKey == joinKey {
			return d, nil
		}
	}
	for _, d := range c.NoBaseline {
		if d.JoinKey == joinKey {
			return d, ErrNoBaseline
		}
	}
	return HistoricalDelta{}, ErrKeyNotFound
}

// HeatmapWeight is a metric rescaled into [0,1] for map rendering.
type HeatmapWeight struct {
	Geography string  `json:"geography"`
	Value     float64 `json:"value"`
	Weight    float64 `json:"weight"`
}

// Diagnostics summarizes ingestion of one report.
type Diagnostics struct {
	Pages            int            `json:"pages"`
	RowsRead         int64          `json:"rows_read"`
	RowsAccepted     int64          `json:"rows_accepted"`
	Malformed        int64          `json:"malformed"`
	MalformedReasons map[string]int `json:"malformed_reasons,omitempty"`
	DistinctSections int            `json:"distinct_sections"`
	OffFilter        int64          `json:"off_filter"`

	// DuplicateSectionRows counts accepted rows for a section already seen.
	// Their section-scoped figures are not counted again.
	DuplicateSectionRows int64 `json:"duplicate_section_rows"`
}

// Report is everything computed for one request. It is owned exclusively
// by the request that produced it.
type Report struct {
	// ID uniquely identifies this report (a UUID).
	ID string `json:"id"`

	Filter Filter `json:"filter"`

	// Allocations holds one ranked list per race: a single entry for
	// offices ranked over the whole filter, one per municipality otherwise.
	Allocations []SeatAllocation `json:"allocations"`

	Parties []PartyResult `json:"parties,omitempty"`

	// Geography maps each requested level to its rollups.
	Geography map[GeoLevel][]GeoSummary `json:"geography,omitempty"`

	// Overall is nil when the report saw no sections.
	Overall *GeoSummary `json:"overall,omitempty"`

	Diagnostics Diagnostics `json:"diagnostics"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Candidates flattens all allocations into one ranked list per race,
// concatenated in allocation order.
func (r *Report) Candidates() []CandidateResult {
	var out []CandidateResult
	for _, a := range r.Allocations {
		out = append(out, a.Candidates...)
	}
	return out
}

// GeoMetric names a numeric attribute of a GeoSummary used for comparisons
// and heatmaps.
type GeoMetric string

// Supported geographic metrics.
const (
	MetricEligibleVoters    GeoMetric = "eligible_voters"
	MetricTurnout           GeoMetric = "turnout"
	MetricAbstention        GeoMetric = "abstention"
	MetricParticipationRate GeoMetric = "participation_rate"
	MetricAbstentionRate    GeoMetric = "abstention_rate"
)

// ParseGeoMetric validates a metric name.
func ParseGeoMetric(s string) (GeoMetric, error) {
	switch m := GeoMetric(s); m {
	case MetricEligibleVoters, MetricTurnout, MetricAbstention, MetricParticipationRate, MetricAbstentionRate:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidConfiguration, s)
}

// Of extracts the metric from a summary.
func (m GeoMetric) Of(s GeoSummary) float64 {
	switch m {
	case MetricEligibleVoters:
		return float64(s.EligibleVoters)
	case MetricTurnout:
		return float64(s.TurnoutCount)
	case MetricAbstention:
		return float64(s.AbstentionCount)
	case MetricAbstentionRate:
		return s.AbstentionRate
	default:
		return s.ParticipationRate
	}
}
