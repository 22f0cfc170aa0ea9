package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// FlakyFetcher fails the first Failures attempts at every offset with Err,
// then delegates to Next. It records how often each offset was requested.
type FlakyFetcher struct {
	Next     ports.PageFetcher
	Failures int
	Err      error

	mu    sync.Mutex
	calls map[int]int
}

// NewFlakyFetcher wraps next.
func NewFlakyFetcher(next ports.PageFetcher, failures int, err error) *FlakyFetcher {
	return &FlakyFetcher{Next: next, Failures: failures, Err: err, calls: make(map[int]int)}
}

// FetchPage implements ports.PageFetcher.
func (f *FlakyFetcher) FetchPage(ctx context.Context, filter domain.Filter, offset, limit int) ([]domain.BallotRecord, error) {
	f.mu.Lock()
	f.calls[offset]++
	n := f.calls[offset]
	f.mu.Unlock()

	if n <= f.Failures {
		return nil, f.Err
	}
	return f.Next.FetchPage(ctx, filter, offset, limit)
}

// Calls returns how many times offset was requested.
func (f *FlakyFetcher) Calls(offset int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[offset]
}

// SQLiteSchema creates the ballot and participation tables read by the
// SQL fetcher.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS ballot_results (
	election_year     INTEGER NOT NULL,
	round             INTEGER NOT NULL,
	office_code       TEXT NOT NULL,
	candidate_id      TEXT NOT NULL,
	candidate_name    TEXT,
	party_code        TEXT,
	state_code        TEXT,
	municipality_name TEXT NOT NULL,
	zone_number       INTEGER,
	section_number    INTEGER,
	vote_count        INTEGER,
	eligible_voters   INTEGER,
	turnout_count     INTEGER,
	abstention_count  INTEGER
);
CREATE INDEX IF NOT EXISTS ballot_results_order
	ON ballot_results (election_year, round, office_code, municipality_name, zone_number, section_number, candidate_id);
CREATE TABLE IF NOT EXISTS participation (
	state_code        TEXT,
	municipality_name TEXT NOT NULL,
	zone_number       INTEGER,
	election_year     INTEGER NOT NULL,
	round             INTEGER NOT NULL,
	eligible_voters   INTEGER NOT NULL,
	turnout_count     INTEGER NOT NULL,
	abstention_count  INTEGER NOT NULL
);`

// LoadSQLite creates the schema in db and inserts rows and participation
// in one transaction.
func LoadSQLite(ctx context.Context, db *sql.DB, rows []domain.BallotRecord, participation []domain.ParticipationRow) error {
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ballot, err := tx.PrepareContext(ctx, `INSERT INTO ballot_results VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer ballot.Close()
	for _, r := range rows {
		if _, err := ballot.ExecContext(ctx,
			r.ElectionYear, r.Round, r.OfficeCode, r.CandidateID, r.CandidateName, r.PartyCode,
			r.StateCode, r.MunicipalityName, r.ZoneNumber, r.SectionNumber,
			r.VoteCount, r.EligibleVoters, r.TurnoutCount, r.AbstentionCount,
		); err != nil {
			return fmt.Errorf("insert ballot row: %w", err)
		}
	}

	part, err := tx.PrepareContext(ctx, `INSERT INTO participation VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer part.Close()
	for _, p := range participation {
		if _, err := part.ExecContext(ctx,
			p.StateCode, p.MunicipalityName, p.ZoneNumber, p.ElectionYear, p.Round,
			p.EligibleVoters, p.TurnoutCount, p.AbstentionCount,
		); err != nil {
			return fmt.Errorf("insert participation row: %w", err)
		}
	}

	return tx.Commit()
}
