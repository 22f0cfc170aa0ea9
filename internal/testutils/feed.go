// Package testutils provides synthetic tally feeds and fake fetchers for
// tests and fixture generation. It is not part of the public API.
package testutils

import (
	"fmt"
	"math/rand/v2"

	"github.com/ahrav/go-tally/internal/domain"
)

// FeedConfig shapes a synthetic feed.
type FeedConfig struct {
	ElectionYear int
	Round        int
	OfficeCode   string
	StateCode    string

	Municipalities       int
	ZonesPerMunicipality int
	SectionsPerZone      int
	Candidates           int

	// BlankAndNull adds rows for the blank and null options to every
	// section.
	BlankAndNull bool
}

// DefaultFeedConfig returns a small mayoral feed.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ElectionYear:         2020,
		Round:                1,
		OfficeCode:           "mayor",
		StateCode:            "PE",
		Municipalities:       3,
		ZonesPerMunicipality: 2,
		SectionsPerZone:      4,
		Candidates:           4,
		BlankAndNull:         true,
	}
}

var municipalityNames = []string{
	"Recife", "Olinda", "Caruaru", "Petrolina", "São José do Egito",
	"Jaboatão dos Guararapes", "Garanhuns", "Arcoverde", "Serra Talhada",
	"Cabo de Santo Agostinho", "Vitória de Santo Antão", "Paulista",
}

var candidateNames = []string{
	"Ana Souza", "Bruno Lima", "Carla Mendes", "Diego Alves", "Elisa Rocha",
	"Fábio Nunes", "Gabriela Costa", "Heitor Dias",
}

var partyCodes = []string{"PT", "PSDB", "PSB", "MDB", "PDT", "PL", "PSOL", "NOVO"}

// MunicipalityName returns the i-th synthetic municipality name.
func MunicipalityName(i int) string {
	name := municipalityNames[i%len(municipalityNames)]
	if i >= len(municipalityNames) {
		name = fmt.Sprintf("%s %d", name, i/len(municipalityNames)+1)
	}
	return name
}

// GenerateFeed builds one row per candidate per section, in section order.
// Section figures repeat on every row of a section and always satisfy
// turnout + abstention = eligible. The seed makes output reproducible.
func GenerateFeed(cfg FeedConfig, seed uint64) []domain.BallotRecord {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	options := make([]domain.BallotRecord, 0, cfg.Candidates+2)
	for c := range cfg.Candidates {
		options = append(options, domain.BallotRecord{
			CandidateID:   fmt.Sprintf("%d", 10+c),
			CandidateName: candidateNames[c%len(candidateNames)],
			PartyCode:     partyCodes[c%len(partyCodes)],
		})
	}
	if cfg.BlankAndNull {
		options = append(options,
			domain.BallotRecord{CandidateID: domain.BlankOption, CandidateName: "Blank"},
			domain.BallotRecord{CandidateID: domain.NullOption, CandidateName: "Null"},
		)
	}

	var rows []domain.BallotRecord
	for m := range cfg.Municipalities {
		mun := MunicipalityName(m)
		for z := 1; z <= cfg.ZonesPerMunicipality; z++ {
			for s := 1; s <= cfg.SectionsPerZone; s++ {
				eligible := int64(200 + rng.IntN(400))
				turnout := eligible * int64(60+rng.IntN(30)) / 100
				votes := split(rng, turnout, len(options))

				for i, opt := range options {
					r := opt
					r.ElectionYear = cfg.ElectionYear
					r.Round = cfg.Round
					r.OfficeCode = cfg.OfficeCode
					r.StateCode = cfg.StateCode
					r.MunicipalityName = mun
					r.ZoneNumber = z
					r.SectionNumber = s
					r.VoteCount = votes[i]
					r.EligibleVoters = eligible
					r.TurnoutCount = turnout
					r.AbstentionCount = eligible - turnout
					rows = append(rows, r)
				}
			}
		}
	}
	return rows
}

// split distributes total over n parts with random weights.
func split(rng *rand.Rand, total int64, n int) []int64 {
	out := make([]int64, n)
	if n == 0 {
		return out
	}
	weights := make([]int64, n)
	var sum int64
	for i := range weights {
		weights[i] = int64(1 + rng.IntN(100))
		sum += weights[i]
	}
	var given int64
	for i := range out {
		out[i] = total * weights[i] / sum
		given += out[i]
	}
	out[0] += total - given
	return out
}

// ParticipationFor derives participation rows per municipality and zone
// from a feed, summing each section once.
func ParticipationFor(rows []domain.BallotRecord) []domain.ParticipationRow {
	type key struct {
		mun  string
		zone int
	}
	seen := make(map[domain.SectionKey]bool)
	acc := make(map[key]*domain.ParticipationRow)
	var order []key

	for _, r := range rows {
		if seen[r.SectionKey()] {
			continue
		}
		seen[r.SectionKey()] = true

		k := key{mun: r.MunicipalityName, zone: r.ZoneNumber}
		p, ok := acc[k]
		if !ok {
			p = &domain.ParticipationRow{
				StateCode:        r.StateCode,
				MunicipalityName: r.MunicipalityName,
				ZoneNumber:       r.ZoneNumber,
				ElectionYear:     r.ElectionYear,
				Round:            r.Round,
			}
			acc[k] = p
			order = append(order, k)
		}
		p.EligibleVoters += r.EligibleVoters
		p.TurnoutCount += r.TurnoutCount
		p.AbstentionCount += r.AbstentionCount
	}

	out := make([]domain.ParticipationRow, 0, len(order))
	for _, k := range order {
		out = append(out, *acc[k])
	}
	return out
}

// CandidateTotals sums votes per candidate ID, the reference answer for
// ranking tests. Blank and null options are left out as they never enter a
// race.
func CandidateTotals(rows []domain.BallotRecord) map[string]int64 {
	out := make(map[string]int64)
	for _, r := range rows {
		if !r.IsCandidate() {
			continue
		}
		out[r.CandidateID] += r.VoteCount
	}
	return out
}
