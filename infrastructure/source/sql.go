package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// Dialect selects placeholder syntax for a SQL store.
type Dialect string

// Supported SQL dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string { return string(d) }

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLConfig names the tables read by SQLFetcher.
type SQLConfig struct {
	Dialect            Dialect `yaml:"dialect" validate:"required,oneof=postgres sqlite"`
	BallotTable        string  `yaml:"ballot_table" validate:"required"`
	ParticipationTable string  `yaml:"participation_table"`
}

// DefaultSQLConfig returns the table names used by the fixture generator.
func DefaultSQLConfig(dialect Dialect) SQLConfig {
	return SQLConfig{
		Dialect:            dialect,
		BallotTable:        "ballot_results",
		ParticipationTable: "participation",
	}
}

const ballotColumns = `election_year, round, office_code, candidate_id, candidate_name, party_code,
	state_code, municipality_name, zone_number, section_number,
	vote_count, eligible_voters, turnout_count, abstention_count`

const participationColumns = `state_code, municipality_name, zone_number, election_year, round,
	eligible_voters, turnout_count, abstention_count`

// SQLFetcher reads ballot pages from a relational store with LIMIT/OFFSET.
// Rows are ordered by section and candidate so offsets are stable.
type SQLFetcher struct {
	db     *sql.DB
	config SQLConfig
}

// NewSQLFetcher creates a fetcher over db. Table names must be plain
// identifiers since they are interpolated into the query text.
func NewSQLFetcher(db *sql.DB, config SQLConfig) (*SQLFetcher, error) {
	if db == nil {
		return nil, fmt.Errorf("sql fetcher: nil database handle")
	}
	if config.Dialect != DialectPostgres && config.Dialect != DialectSQLite {
		return nil, fmt.Errorf("sql fetcher: unsupported dialect %q", config.Dialect)
	}
	if !identifierPattern.MatchString(config.BallotTable) {
		return nil, fmt.Errorf("sql fetcher: invalid ballot table %q", config.BallotTable)
	}
	if config.ParticipationTable != "" && !identifierPattern.MatchString(config.ParticipationTable) {
		return nil, fmt.Errorf("sql fetcher: invalid participation table %q", config.ParticipationTable)
	}
	return &SQLFetcher{db: db, config: config}, nil
}

// whereClause renders the filter predicates and their arguments.
func (f *SQLFetcher) whereClause(filter domain.Filter, withOffice bool) (string, []any) {
	var conds []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, col+" = "+f.config.Dialect.placeholder(len(args)))
	}

	add("election_year", filter.ElectionYear)
	add("round", filter.Round)
	if withOffice {
		add("office_code", filter.OfficeCode)
	}
	if filter.StateCode != "" {
		add("state_code", filter.StateCode)
	}
	if filter.Municipality != "" {
		add("municipality_name", filter.Municipality)
	}
	return strings.Join(conds, " AND "), args
}

// FetchPage implements ports.PageFetcher.
func (f *SQLFetcher) FetchPage(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]domain.BallotRecord, error) {
	where, args := f.whereClause(filter, true)
	args = append(args, limit, offset)
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s ORDER BY municipality_name, zone_number, section_number, candidate_id LIMIT %s OFFSET %s",
		ballotColumns, f.config.BallotTable, where,
		f.config.Dialect.placeholder(len(args)-1), f.config.Dialect.placeholder(len(args)),
	)

	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySQLError(string(f.config.Dialect), "FetchPage", err)
	}
	defer rows.Close()

	out := make([]domain.BallotRecord, 0, limit)
	for rows.Next() {
		var (
			r                  domain.BallotRecord
			name, party, state sql.NullString
			zone, section      sql.NullInt64
			votes, eligible    sql.NullInt64
			turnout, abstained sql.NullInt64
		)
		if err := rows.Scan(
			&r.ElectionYear, &r.Round, &r.OfficeCode, &r.CandidateID, &name, &party,
			&state, &r.MunicipalityName, &zone, &section,
			&votes, &eligible, &turnout, &abstained,
		); err != nil {
			return nil, ports.NewStoreError(string(f.config.Dialect), "Scan", fmt.Errorf("%w: %v", ports.ErrInvalidResponse, err))
		}
		r.CandidateName = name.String
		r.PartyCode = party.String
		r.StateCode = state.String
		r.ZoneNumber = int(zone.Int64)
		r.SectionNumber = int(section.Int64)
		r.VoteCount = votes.Int64
		r.EligibleVoters = eligible.Int64
		r.TurnoutCount = turnout.Int64
		r.AbstentionCount = abstained.Int64
		r.Missing = firstNull(
			nullable{"vote_count", votes.Valid},
			nullable{"eligible_voters", eligible.Valid},
			nullable{"turnout_count", turnout.Valid},
			nullable{"abstention_count", abstained.Valid},
		)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLError(string(f.config.Dialect), "FetchPage", err)
	}
	return out, nil
}

type nullable struct {
	column string
	valid  bool
}

// firstNull returns the first column that was null, or "".
func firstNull(cols ...nullable) string {
	for _, c := range cols {
		if !c.valid {
			return c.column
		}
	}
	return ""
}

// FetchParticipation implements ports.ParticipationSource.
func (f *SQLFetcher) FetchParticipation(ctx context.Context, filter domain.Filter) ([]domain.ParticipationRow, error) {
	if f.config.ParticipationTable == "" {
		return nil, fmt.Errorf("%w: participation table not configured", ports.ErrConfigNotFound)
	}
	where, args := f.whereClause(filter, false)
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s ORDER BY municipality_name, zone_number",
		participationColumns, f.config.ParticipationTable, where,
	)

	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySQLError(string(f.config.Dialect), "FetchParticipation", err)
	}
	defer rows.Close()

	var out []domain.ParticipationRow
	for rows.Next() {
		var (
			p     domain.ParticipationRow
			state sql.NullString
			zone  sql.NullInt64
		)
		if err := rows.Scan(
			&state, &p.MunicipalityName, &zone, &p.ElectionYear, &p.Round,
			&p.EligibleVoters, &p.TurnoutCount, &p.AbstentionCount,
		); err != nil {
			return nil, ports.NewStoreError(string(f.config.Dialect), "Scan", fmt.Errorf("%w: %v", ports.ErrInvalidResponse, err))
		}
		p.StateCode = state.String
		p.ZoneNumber = int(zone.Int64)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLError(string(f.config.Dialect), "FetchParticipation", err)
	}
	return out, nil
}

// classifySQLError maps driver failures onto the port error taxonomy so
// the retry middleware can tell transient from permanent failures.
func classifySQLError(store, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ports.NewStoreError(store, op, fmt.Errorf("%w: %v", ports.ErrTimeout, err))
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return ports.NewStoreError(store, op, fmt.Errorf("%w: %v", ports.ErrServiceUnavailable, err))
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return ports.NewStoreError(store, op, fmt.Errorf("%w: %v", ports.ErrServiceUnavailable, err))
		case "28":
			return ports.NewStoreError(store, op, fmt.Errorf("%w: %v", ports.ErrAuthenticationFailed, err))
		case "40":
			return ports.NewStoreError(store, op, fmt.Errorf("%w: %v", ports.ErrServiceUnavailable, err))
		}
	}
	return ports.NewStoreError(store, op, err)
}
