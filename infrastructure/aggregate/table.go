// Package aggregate folds flagged ballot records into grouped totals along
// arbitrary dimension tuples in a single pass.
package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/ahrav/go-tally/internal/domain"
)

// Totals are the additive measures of one group.
type Totals struct {
	Votes           int64 `json:"votes"`
	EligibleVoters  int64 `json:"eligible_voters"`
	TurnoutCount    int64 `json:"turnout_count"`
	AbstentionCount int64 `json:"abstention_count"`
	Rows            int64 `json:"rows"`
	Sections        int   `json:"sections"`

	// FirstSeq is the stream position of the earliest row in the group.
	// It orders groups by first appearance and breaks ranking ties.
	FirstSeq int64 `json:"first_seq"`
}

func emptyTotals() Totals { return Totals{FirstSeq: math.MaxInt64} }

// add merges o into t. It is associative and commutative.
func (t *Totals) add(o Totals) {
	t.Votes += o.Votes
	t.EligibleVoters += o.EligibleVoters
	t.TurnoutCount += o.TurnoutCount
	t.AbstentionCount += o.AbstentionCount
	t.Rows += o.Rows
	t.Sections += o.Sections
	t.FirstSeq = min(t.FirstSeq, o.FirstSeq)
}

// Group is one row of a Table.
type Group struct {
	Key domain.Key
	Totals

	// First is the earliest record of the group, kept for its descriptive
	// fields such as candidate name and party.
	First domain.BallotRecord
}

// Table holds the groups of one GroupSpec.
type Table struct {
	spec   domain.GroupSpec
	groups map[string]*Group

	// sectionScoped tables carry eligibility and section counts. Tables
	// keyed by candidate or party do not, since a section's figures are
	// not per option.
	sectionScoped bool
}

// NewTable creates an empty table for spec.
func NewTable(spec domain.GroupSpec) *Table {
	return &Table{
		spec:          spec,
		groups:        make(map[string]*Group),
		sectionScoped: !spec.Contains(domain.DimCandidate) && !spec.Contains(domain.DimParty),
	}
}

// Spec returns the table's grouping spec.
func (t *Table) Spec() domain.GroupSpec { return t.spec }

// Len returns the number of groups.
func (t *Table) Len() int { return len(t.groups) }

// SectionScoped reports whether the table carries section figures.
func (t *Table) SectionScoped() bool { return t.sectionScoped }

// Add folds one record. Votes count only when counted is true. Section
// scoped tables keep uncounted rows for their section figures, which come
// from first-occurrence rows whatever the predicate said; per-option tables
// drop them.
func (t *Table) Add(r domain.FlaggedRecord, counted bool) {
	if !counted && !t.sectionScoped {
		return
	}

	key := t.spec.KeyOf(r.BallotRecord)
	id := key.ID()
	g, ok := t.groups[id]
	if !ok {
		g = &Group{Key: key, Totals: emptyTotals(), First: r.BallotRecord}
		t.groups[id] = g
	}

	if r.Seq < g.FirstSeq {
		g.FirstSeq = r.Seq
		g.First = r.BallotRecord
	}
	g.Rows++
	if counted {
		g.Votes += r.VoteCount
	}
	if t.sectionScoped && r.FirstOccurrence {
		g.EligibleVoters += r.EligibleVoters
		g.TurnoutCount += r.TurnoutCount
		g.AbstentionCount += r.AbstentionCount
		g.Sections++
	}
}

// Merge folds other into t. Both tables must share a spec.
func (t *Table) Merge(other *Table) error {
	if other == nil {
		return nil
	}
	if t.spec.String() != other.spec.String() {
		return fmt.Errorf("%w: cannot merge table %q into %q",
			domain.ErrInvalidConfiguration, other.spec.String(), t.spec.String())
	}
	for id, og := range other.groups {
		g, ok := t.groups[id]
		if !ok {
			cp := *og
			t.groups[id] = &cp
			continue
		}
		if og.FirstSeq < g.FirstSeq {
			g.First = og.First
		}
		g.Totals.add(og.Totals)
	}
	return nil
}

// Get returns the totals of a key.
func (t *Table) Get(key domain.Key) (Totals, bool) {
	g, ok := t.groups[key.ID()]
	if !ok {
		return Totals{}, false
	}
	return g.Totals, true
}

// Groups returns all groups in first-seen order.
func (t *Table) Groups() []Group {
	out := make([]Group, 0, len(t.groups))
	for _, g := range t.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeq != out[j].FirstSeq {
			return out[i].FirstSeq < out[j].FirstSeq
		}
		return out[i].Key.ID() < out[j].Key.ID()
	})
	return out
}

// Sum returns the totals of all groups combined.
func (t *Table) Sum() Totals {
	sum := emptyTotals()
	for _, g := range t.groups {
		sum.add(g.Totals)
	}
	if len(t.groups) == 0 {
		sum.FirstSeq = 0
	}
	return sum
}
