// Package export renders report entities as downloadable CSV.
//
// Every field is quoted and the first row carries human-readable column
// names, which is what spreadsheet users downloading a report expect.
package export

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/ahrav/go-tally/internal/domain"
)

// Table is a header plus rows of already formatted cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Write renders t to w with every field quoted.
func Write(w io.Writer, t Table) error {
	bw := bufio.NewWriter(w)
	if err := writeRecord(bw, t.Header); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := writeRecord(bw, r); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeRecord(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(quote(f)); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Candidates renders ranked candidates.
func Candidates(results []domain.CandidateResult) Table {
	t := Table{Header: []string{
		"Rank", "Candidate ID", "Candidate", "Party", "Office", "Year", "Municipality", "Votes", "Elected",
	}}
	for _, r := range results {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.Rank), r.CandidateID, r.CandidateName, r.PartyCode, r.OfficeCode,
			strconv.Itoa(r.ElectionYear), r.Municipality, itoa(r.TotalVotes), yesNo(r.Elected),
		})
	}
	return t
}

// Parties renders party totals.
func Parties(results []domain.PartyResult) Table {
	t := Table{Header: []string{"Rank", "Party", "Votes", "Seats"}}
	for _, r := range results {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.Rank), r.PartyCode, itoa(r.TotalVotes), strconv.Itoa(r.Seats),
		})
	}
	return t
}

// Geography renders geographic summaries.
func Geography(summaries []domain.GeoSummary) Table {
	t := Table{Header: []string{
		"Level", "Municipality", "Zone", "Section", "Year", "Round",
		"Eligible Voters", "Turnout", "Abstention", "Sections", "Participation Rate", "Abstention Rate",
	}}
	for _, s := range summaries {
		t.Rows = append(t.Rows, []string{
			string(s.Level), s.Municipality, s.Zone, s.Section,
			strconv.Itoa(s.ElectionYear), strconv.Itoa(s.Round),
			itoa(s.EligibleVoters), itoa(s.TurnoutCount), itoa(s.AbstentionCount),
			strconv.Itoa(s.Sections), ftoa(s.ParticipationRate), ftoa(s.AbstentionRate),
		})
	}
	return t
}

// Deltas renders a comparison, matched rows first.
func Deltas(c domain.Comparison) Table {
	t := Table{Header: []string{
		"Geography", "Status", "Baseline", "Current", "Absolute Change", "Percent Change", "Trend", "Matched By",
	}}
	for _, d := range c.All() {
		pct := ""
		if d.PercentDelta != nil {
			pct = ftoa(*d.PercentDelta)
		}
		t.Rows = append(t.Rows, []string{
			d.Geography, string(d.State), ftoa(d.Baseline), ftoa(d.Current),
			ftoa(d.AbsoluteDelta), pct, string(d.TrendClass), d.MatchedBy,
		})
	}
	return t
}

// Heatmap renders heatmap weights.
func Heatmap(weights []domain.HeatmapWeight) Table {
	t := Table{Header: []string{"Geography", "Value", "Weight"}}
	for _, w := range weights {
		t.Rows = append(t.Rows, []string{w.Geography, ftoa(w.Value), ftoa(w.Weight)})
	}
	return t
}
