// Package ranking orders aggregated totals and applies the seat cutoff.
//
// The default rule is a plain rank cutoff: the top N candidates by votes
// are elected, where N is the configured seat count. Quotient based
// apportionment between parties is available separately through Apportion.
package ranking

import (
	"fmt"
	"sort"

	"github.com/ahrav/go-tally/infrastructure/aggregate"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// Entry is one candidate's total as input to Rank.
type Entry struct {
	CandidateID   string
	CandidateName string
	PartyCode     string
	OfficeCode    string
	ElectionYear  int
	Municipality  string
	Votes         int64

	// FirstSeq breaks vote ties: the candidate seen first in the stream
	// ranks higher.
	FirstSeq int64
}

// sortEntries orders by votes descending, then by first appearance.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Votes != entries[j].Votes {
			return entries[i].Votes > entries[j].Votes
		}
		return entries[i].FirstSeq < entries[j].FirstSeq
	})
}

// Rank orders entries and marks the first seats of them elected. The
// cutoff is the vote total at the last seat, or the smallest total when
// there are fewer candidates than seats. Empty input yields an empty
// allocation with cutoff 0, as does seats < 1, which elects nobody; seat
// configuration never produces it. The input slice is not modified.
func Rank(entries []Entry, seats int) domain.SeatAllocation {
	if seats < 0 {
		seats = 0
	}
	sorted := append([]Entry(nil), entries...)
	sortEntries(sorted)

	alloc := domain.SeatAllocation{
		SeatsAvailable: seats,
		Candidates:     make([]domain.CandidateResult, len(sorted)),
	}
	if len(sorted) > 0 {
		alloc.OfficeCode = sorted[0].OfficeCode
		alloc.Municipality = sorted[0].Municipality
	}

	for i, e := range sorted {
		rank := i + 1
		alloc.Candidates[i] = domain.CandidateResult{
			CandidateID:   e.CandidateID,
			CandidateName: e.CandidateName,
			PartyCode:     e.PartyCode,
			OfficeCode:    e.OfficeCode,
			ElectionYear:  e.ElectionYear,
			Municipality:  e.Municipality,
			TotalVotes:    e.Votes,
			Rank:          rank,
			Elected:       rank <= seats,
		}
	}

	switch {
	case len(sorted) == 0 || seats == 0:
		alloc.CutoffVotes = 0
	case seats >= len(sorted):
		alloc.CutoffVotes = sorted[len(sorted)-1].Votes
	default:
		alloc.CutoffVotes = sorted[seats-1].Votes
	}
	return alloc
}

// Entries converts a table that groups by candidate into ranking input.
// Descriptive fields come from each candidate's first row. When the table
// also groups by municipality, each entry carries it. Blank and null
// options are dropped: they may count in a report's totals but never hold
// a seat.
func Entries(tbl *aggregate.Table) ([]Entry, error) {
	spec := tbl.Spec()
	if !spec.Contains(domain.DimCandidate) {
		return nil, fmt.Errorf("%w: ranking needs a table grouped by candidate, got %q",
			domain.ErrInvalidConfiguration, spec.String())
	}
	perMunicipality := spec.Contains(domain.DimMunicipality)

	groups := tbl.Groups()
	out := make([]Entry, 0, len(groups))
	for _, g := range groups {
		id := spec.Value(g.Key, domain.DimCandidate)
		if !domain.IsCandidateOption(id) {
			continue
		}
		e := Entry{
			CandidateID:   id,
			CandidateName: g.First.CandidateName,
			PartyCode:     g.First.PartyCode,
			OfficeCode:    g.First.OfficeCode,
			ElectionYear:  g.First.ElectionYear,
			Votes:         g.Votes,
			FirstSeq:      g.FirstSeq,
		}
		if perMunicipality {
			e.Municipality = spec.Value(g.Key, domain.DimMunicipality)
		}
		out = append(out, e)
	}
	return out, nil
}

// RankOffice ranks a candidate table as one race using the office-wide
// seat count.
func RankOffice(tbl *aggregate.Table, seats ports.SeatTable, office string) (domain.SeatAllocation, error) {
	n, err := seats.SeatsFor(office, "")
	if err != nil {
		return domain.SeatAllocation{}, err
	}
	entries, err := Entries(tbl)
	if err != nil {
		return domain.SeatAllocation{}, err
	}
	alloc := Rank(entries, n)
	alloc.OfficeCode = office
	return alloc, nil
}

// RankByMunicipality ranks each municipality as its own race, as council
// seats are contested locally. The table must group by municipality and
// candidate. Allocations are ordered by municipality name.
func RankByMunicipality(tbl *aggregate.Table, seats ports.SeatTable, office string) ([]domain.SeatAllocation, error) {
	if !tbl.Spec().Contains(domain.DimMunicipality) {
		return nil, fmt.Errorf("%w: per-municipality ranking needs a municipality dimension, got %q",
			domain.ErrInvalidConfiguration, tbl.Spec().String())
	}
	entries, err := Entries(tbl)
	if err != nil {
		return nil, err
	}

	byMun := make(map[string][]Entry)
	var names []string
	for _, e := range entries {
		if _, ok := byMun[e.Municipality]; !ok {
			names = append(names, e.Municipality)
		}
		byMun[e.Municipality] = append(byMun[e.Municipality], e)
	}
	sort.Strings(names)

	out := make([]domain.SeatAllocation, 0, len(names))
	for _, mun := range names {
		n, err := seats.SeatsFor(office, mun)
		if err != nil {
			return nil, err
		}
		alloc := Rank(byMun[mun], n)
		alloc.OfficeCode = office
		alloc.Municipality = mun
		out = append(out, alloc)
	}
	return out, nil
}

// RankParties orders a party table by votes. Seats are left at zero; see
// Apportion.
func RankParties(tbl *aggregate.Table) ([]domain.PartyResult, error) {
	spec := tbl.Spec()
	if !spec.Contains(domain.DimParty) {
		return nil, fmt.Errorf("%w: party ranking needs a table grouped by party, got %q",
			domain.ErrInvalidConfiguration, spec.String())
	}

	groups := tbl.Groups()
	entries := make([]Entry, 0, len(groups))
	for _, g := range groups {
		entries = append(entries, Entry{
			PartyCode: spec.Value(g.Key, domain.DimParty),
			Votes:     g.Votes,
			FirstSeq:  g.FirstSeq,
		})
	}
	sortEntries(entries)

	out := make([]domain.PartyResult, len(entries))
	for i, e := range entries {
		out[i] = domain.PartyResult{PartyCode: e.PartyCode, TotalVotes: e.Votes, Rank: i + 1}
	}
	return out, nil
}
