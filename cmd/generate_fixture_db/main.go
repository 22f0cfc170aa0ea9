package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/testutils"
)

func main() {
	var (
		output         = flag.String("output", "tally.db", "SQLite file to create")
		municipalities = flag.Int("municipalities", 12, "Municipalities per election")
		zones          = flag.Int("zones", 3, "Zones per municipality")
		sections       = flag.Int("sections", 20, "Sections per zone")
		candidates     = flag.Int("candidates", 5, "Mayoral candidates")
		councilSeats   = flag.Int("council-candidates", 8, "Council candidates per municipality")
		seed           = flag.Uint64("seed", 1, "Random seed")
		years          = flag.String("years", "2016,2020", "Comma-separated election years")
		force          = flag.Bool("force", false, "Overwrite an existing file")
	)
	flag.Parse()

	if _, err := os.Stat(*output); err == nil {
		if !*force {
			log.Fatalf("%s exists, pass -force to overwrite", *output)
		}
		if err := os.Remove(*output); err != nil {
			log.Fatalf("Failed to remove %s: %v", *output, err)
		}
	}

	electionYears, err := parseYears(*years)
	if err != nil {
		log.Fatalf("Invalid -years: %v", err)
	}

	var rows []domain.BallotRecord
	for i, year := range electionYears {
		for _, office := range []struct {
			code       string
			candidates int
		}{
			{"mayor", *candidates},
			{"council", *councilSeats},
		} {
			cfg := testutils.DefaultFeedConfig()
			cfg.ElectionYear = year
			cfg.OfficeCode = office.code
			cfg.Municipalities = *municipalities
			cfg.ZonesPerMunicipality = *zones
			cfg.SectionsPerZone = *sections
			cfg.Candidates = office.candidates
			rows = append(rows, testutils.GenerateFeed(cfg, *seed+uint64(i))...)
		}
	}

	db, err := sql.Open("sqlite", *output)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *output, err)
	}
	defer db.Close()

	// Participation is per election, so derive it from one office only.
	var mayorRows []domain.BallotRecord
	for _, r := range rows {
		if r.OfficeCode == "mayor" {
			mayorRows = append(mayorRows, r)
		}
	}
	participation := testutils.ParticipationFor(mayorRows)

	if err := testutils.LoadSQLite(context.Background(), db, rows, participation); err != nil {
		log.Fatalf("Failed to load fixture: %v", err)
	}

	fmt.Printf("Generated fixture database:\n")
	fmt.Printf("- Path: %s\n", *output)
	fmt.Printf("- Elections: %v (mayor, council)\n", electionYears)
	fmt.Printf("- Ballot rows: %s\n", humanize.Comma(int64(len(rows))))
	fmt.Printf("- Participation rows: %s\n", humanize.Comma(int64(len(participation))))
	fmt.Printf("- Sections per election: %s\n", humanize.Comma(int64((*municipalities)*(*zones)*(*sections))))
}

func parseYears(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		var y int
		if _, err := fmt.Sscanf(part, "%d", &y); err != nil {
			return nil, fmt.Errorf("year %q: %w", part, err)
		}
		out = append(out, y)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no years given")
	}
	return out, nil
}
