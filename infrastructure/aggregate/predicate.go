package aggregate

import (
	"slices"

	"github.com/ahrav/go-tally/internal/domain"
)

// Predicate decides whether a row's votes are counted.
type Predicate func(domain.BallotRecord) bool

// All counts every row.
func All(domain.BallotRecord) bool { return true }

// ExcludeOptions counts every row except those for the given option codes.
func ExcludeOptions(codes ...string) Predicate {
	excluded := slices.Clone(codes)
	return func(r domain.BallotRecord) bool {
		return !slices.Contains(excluded, r.CandidateID)
	}
}

// CandidatesOnly excludes blank and null votes.
var CandidatesOnly = ExcludeOptions(domain.NonCandidateOptions...)
