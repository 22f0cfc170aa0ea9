package domain

// Conventional option codes for non-candidate ballot choices. Reports decide
// whether these take part in vote totals through an aggregation predicate.
const (
	// BlankOption is the option code used for blank votes.
	BlankOption = "95"
	// NullOption is the option code used for null (spoiled) votes.
	NullOption = "96"
)

// NonCandidateOptions lists the option codes that are not candidates.
var NonCandidateOptions = []string{BlankOption, NullOption}

// BallotRecord is one raw tally row: the votes received by one candidate or
// option in one precinct section for one office. Records are immutable once
// ingested.
//
// EligibleVoters, TurnoutCount and AbstentionCount describe the section and
// are repeated on every candidate row of that section. They must be summed
// once per section, never once per row.
type BallotRecord struct {
	ElectionYear     int    `json:"election_year" bson:"election_year"`
	Round            int    `json:"round" bson:"round"`
	OfficeCode       string `json:"office_code" bson:"office_code"`
	CandidateID      string `json:"candidate_id" bson:"candidate_id"`
	CandidateName    string `json:"candidate_name" bson:"candidate_name"`
	PartyCode        string `json:"party_code" bson:"party_code"`
	StateCode        string `json:"state_code" bson:"state_code"`
	MunicipalityName string `json:"municipality_name" bson:"municipality_name"`
	ZoneNumber       int    `json:"zone_number" bson:"zone_number"`
	SectionNumber    int    `json:"section_number" bson:"section_number"`
	VoteCount        int64  `json:"vote_count" bson:"vote_count"`
	EligibleVoters   int64  `json:"eligible_voters" bson:"eligible_voters"`
	TurnoutCount     int64  `json:"turnout_count" bson:"turnout_count"`
	AbstentionCount  int64  `json:"abstention_count" bson:"abstention_count"`

	// Missing names a measure the store returned as null. Fetchers set it
	// instead of reading the null as zero, and Validate rejects the record.
	Missing string `json:"-" bson:"-"`
}

// SectionKey identifies a polling section within a municipality.
type SectionKey struct {
	Municipality string
	Zone         int
	Section      int
}

// ContextKey identifies one precinct-office context. The same context
// appears once per candidate row in a raw feed.
type ContextKey struct {
	SectionKey
	OfficeCode   string
	ElectionYear int
	Round        int
}

// SectionKey returns the section identity of the record.
func (r BallotRecord) SectionKey() SectionKey {
	return SectionKey{Municipality: r.MunicipalityName, Zone: r.ZoneNumber, Section: r.SectionNumber}
}

// ContextKey returns the precinct-office identity of the record.
func (r BallotRecord) ContextKey() ContextKey {
	return ContextKey{
		SectionKey:   r.SectionKey(),
		OfficeCode:   r.OfficeCode,
		ElectionYear: r.ElectionYear,
		Round:        r.Round,
	}
}

// IsCandidate reports whether the record counts votes for a candidate rather
// than a blank or null option.
func (r BallotRecord) IsCandidate() bool { return IsCandidateOption(r.CandidateID) }

// IsCandidateOption reports whether an option code names a candidate.
func IsCandidateOption(code string) bool {
	for _, c := range NonCandidateOptions {
		if code == c {
			return false
		}
	}
	return true
}

// Validate checks the basic shape of the record. It returns a *RecordError
// wrapping ErrMalformedRecord for the first violation found.
func (r BallotRecord) Validate() error {
	switch {
	case r.Missing != "":
		return NewRecordError(r.Missing, "missing")
	case r.ElectionYear <= 0:
		return NewRecordError("election_year", "non_positive")
	case r.Round != 1 && r.Round != 2:
		return NewRecordError("round", "out_of_range")
	case r.OfficeCode == "":
		return NewRecordError("office_code", "missing")
	case r.CandidateID == "":
		return NewRecordError("candidate_id", "missing")
	case r.VoteCount < 0:
		return NewRecordError("vote_count", "negative")
	case r.EligibleVoters < 0:
		return NewRecordError("eligible_voters", "negative")
	case r.TurnoutCount < 0:
		return NewRecordError("turnout_count", "negative")
	case r.AbstentionCount < 0:
		return NewRecordError("abstention_count", "negative")
	case r.TurnoutCount > r.EligibleVoters:
		return NewRecordError("turnout_count", "exceeds_eligible")
	}
	return nil
}

// FlaggedRecord is a BallotRecord annotated by the source reader.
type FlaggedRecord struct {
	BallotRecord

	// FirstOccurrence is true for the first row of each section in stream
	// order. Only such rows contribute eligibility, turnout and abstention.
	FirstOccurrence bool

	// Seq is the 0-based position of the row in the logical stream,
	// counting only rows that passed validation.
	Seq int64
}

// ParticipationRow is one row of the auxiliary participation table, which
// carries section-independent turnout figures per municipality.
type ParticipationRow struct {
	StateCode        string `json:"state_code" bson:"state_code"`
	MunicipalityName string `json:"municipality_name" bson:"municipality_name"`
	ZoneNumber       int    `json:"zone_number,omitempty" bson:"zone_number,omitempty"`
	ElectionYear     int    `json:"election_year" bson:"election_year"`
	Round            int    `json:"round" bson:"round"`
	EligibleVoters   int64  `json:"eligible_voters" bson:"eligible_voters"`
	TurnoutCount     int64  `json:"turnout_count" bson:"turnout_count"`
	AbstentionCount  int64  `json:"abstention_count" bson:"abstention_count"`
}
