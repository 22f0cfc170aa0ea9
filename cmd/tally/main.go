// Command tally runs one report against the configured store and prints it
// as a text table, CSV or JSON.
//
// Usage:
//
//	tally [global flags] report    -year 2020 -office mayor [-levels municipality,zone]
//	tally [global flags] geography -year 2020 -office mayor -level zone
//	tally [global flags] compare   -baseline-year 2016 -year 2020 -office mayor
//	tally [global flags] heatmap   -year 2020 -office mayor -metric turnout
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/ahrav/go-tally/infrastructure/aggregate"
	"github.com/ahrav/go-tally/infrastructure/export"
	"github.com/ahrav/go-tally/infrastructure/ranking"
	"github.com/ahrav/go-tally/internal/application"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/logger"
)

const usage = `usage: tally [-env file] [-config engine.yaml] <report|geography|compare|heatmap> [flags]`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "tally:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidFilter), errors.Is(err, domain.ErrInvalidConfiguration),
		errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, domain.ErrConfigurationMissing):
		return 3
	case errors.Is(err, domain.ErrSourceUnavailable):
		return 4
	default:
		return 1
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("tally", flag.ContinueOnError)
	envFile := global.String("env", ".env", "Environment file to load if present")
	configPath := global.String("config", "", "Engine config file (overrides TALLY_ENGINE_CONFIG)")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfiguration, usage)
	}

	cfg, err := application.LoadServiceConfig(*envFile)
	if err != nil {
		return err
	}
	if *configPath != "" {
		cfg.EngineConfigPath = *configPath
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, store, err := application.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "report":
		return report(ctx, engine, rest, out)
	case "geography":
		return geography(ctx, engine, rest, out)
	case "compare":
		return compare(ctx, engine, rest, out)
	case "heatmap":
		return heatmap(ctx, engine, rest, out)
	default:
		return fmt.Errorf("%w: unknown command %q\n%s", domain.ErrInvalidConfiguration, cmd, usage)
	}
}

// filterFlags registers the report filter flags on fs.
func filterFlags(fs *flag.FlagSet, prefix string) *domain.Filter {
	f := &domain.Filter{}
	fs.IntVar(&f.ElectionYear, prefix+"year", 0, "Election year")
	fs.IntVar(&f.Round, prefix+"round", 1, "Round (1 or 2)")
	fs.StringVar(&f.OfficeCode, prefix+"office", "", "Office code")
	fs.StringVar(&f.StateCode, prefix+"state", "", "State code")
	fs.StringVar(&f.Municipality, prefix+"municipality", "", "Municipality name")
	return f
}

func formatFlag(fs *flag.FlagSet) *string {
	return fs.String("format", "text", "Output format: text, csv or json")
}

func report(ctx context.Context, e *application.Engine, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	filter := filterFlags(fs, "")
	format := formatFlag(fs)
	levels := fs.String("levels", "", "Comma-separated geographic levels")
	method := fs.String("apportionment", "", "Party seat method: dhondt, sainte_lague, largest_remainder")
	parties := fs.Bool("parties", false, "Print party totals instead of candidates")
	exclude := fs.String("exclude", "", "Comma-separated option codes left out of vote totals; overrides the config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := application.ReportRequest{Filter: *filter}
	for _, l := range splitList(*levels) {
		level, err := domain.ParseGeoLevel(l)
		if err != nil {
			return err
		}
		req.GeoLevels = append(req.GeoLevels, level)
	}
	m, err := ranking.ParseMethod(*method)
	if err != nil {
		return err
	}
	req.Apportionment = m
	if isSet(fs, "exclude") {
		req.Predicate = aggregate.ExcludeOptions(splitList(*exclude)...)
	}

	r, err := e.Run(ctx, req)
	if err != nil {
		return err
	}

	switch *format {
	case "json":
		return writeJSON(out, r)
	case "csv":
		if *parties {
			return export.Write(out, export.Parties(r.Parties))
		}
		return export.Write(out, export.Candidates(r.Candidates()))
	case "text":
		if *parties {
			return partiesText(out, r.Parties)
		}
		return candidatesText(out, r)
	default:
		return unknownFormat(*format)
	}
}

func geography(ctx context.Context, e *application.Engine, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("geography", flag.ContinueOnError)
	filter := filterFlags(fs, "")
	format := formatFlag(fs)
	levelName := fs.String("level", string(domain.LevelMunicipality), "municipality, zone or section")
	if err := fs.Parse(args); err != nil {
		return err
	}
	level, err := domain.ParseGeoLevel(*levelName)
	if err != nil {
		return err
	}

	r, err := e.Run(ctx, application.ReportRequest{Filter: *filter, GeoLevels: []domain.GeoLevel{level}})
	if err != nil {
		return err
	}
	summaries := r.Geography[level]

	switch *format {
	case "json":
		return writeJSON(out, summaries)
	case "csv":
		return export.Write(out, export.Geography(summaries))
	case "text":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "Unit\tSections\tEligible\tTurnout\tAbstention\tParticipation\t")
		for _, s := range summaries {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t\n", s.Name(), s.Sections,
				humanize.Comma(s.EligibleVoters), humanize.Comma(s.TurnoutCount),
				humanize.Comma(s.AbstentionCount), percent(s.ParticipationRate))
		}
		if r.Overall != nil {
			fmt.Fprintf(tw, "Total\t%d\t%s\t%s\t%s\t%s\t\n", r.Overall.Sections,
				humanize.Comma(r.Overall.EligibleVoters), humanize.Comma(r.Overall.TurnoutCount),
				humanize.Comma(r.Overall.AbstentionCount), percent(r.Overall.ParticipationRate))
		}
		return tw.Flush()
	default:
		return unknownFormat(*format)
	}
}

func compare(ctx context.Context, e *application.Engine, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	current := filterFlags(fs, "")
	baselineYear := fs.Int("baseline-year", 0, "Baseline election year")
	baselineRound := fs.Int("baseline-round", 0, "Baseline round (defaults to -round)")
	format := formatFlag(fs)
	subject := fs.String("subject", application.SubjectGeography, "geography or candidates")
	level := fs.String("level", "", "Geographic level")
	metric := fs.String("metric", "", "Metric to compare")
	if err := fs.Parse(args); err != nil {
		return err
	}

	baseline := *current
	baseline.ElectionYear = *baselineYear
	if *baselineRound != 0 {
		baseline.Round = *baselineRound
	}

	cmp, err := e.Compare(ctx, application.CompareRequest{
		Baseline: baseline,
		Current:  *current,
		Subject:  *subject,
		Level:    domain.GeoLevel(*level),
		Metric:   domain.GeoMetric(*metric),
	})
	if err != nil {
		return err
	}

	switch *format {
	case "json":
		return writeJSON(out, cmp)
	case "csv":
		return export.Write(out, export.Deltas(cmp))
	case "text":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Geography\tBaseline\tCurrent\tChange\tTrend\tState")
		for _, d := range cmp.All() {
			change := "n/a"
			if d.PercentDelta != nil {
				change = fmt.Sprintf("%+.1f%%", *d.PercentDelta)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Geography,
				humanize.FtoaWithDigits(d.Baseline, 4), humanize.FtoaWithDigits(d.Current, 4),
				change, d.TrendClass, d.State)
		}
		return tw.Flush()
	default:
		return unknownFormat(*format)
	}
}

func heatmap(ctx context.Context, e *application.Engine, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("heatmap", flag.ContinueOnError)
	filter := filterFlags(fs, "")
	format := formatFlag(fs)
	level := fs.String("level", "", "Geographic level")
	metric := fs.String("metric", "", "Metric to normalize")
	units := fs.String("units", "", "Comma-separated active units (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	weights, err := e.Heatmap(ctx, application.HeatmapRequest{
		Filter: *filter,
		Level:  domain.GeoLevel(*level),
		Metric: domain.GeoMetric(*metric),
		Units:  splitList(*units),
	})
	if err != nil {
		return err
	}

	switch *format {
	case "json":
		return writeJSON(out, weights)
	case "csv":
		return export.Write(out, export.Heatmap(weights))
	case "text":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Geography\tValue\tWeight\t")
		for _, w := range weights {
			fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", w.Geography, humanize.FtoaWithDigits(w.Value, 4),
				w.Weight, strings.Repeat("#", int(w.Weight*20+0.5)))
		}
		return tw.Flush()
	default:
		return unknownFormat(*format)
	}
}

func candidatesText(out io.Writer, r *domain.Report) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, a := range r.Allocations {
		title := a.OfficeCode
		if a.Municipality != "" {
			title += " / " + a.Municipality
		}
		fmt.Fprintf(tw, "%s: %d seat(s), cutoff %s votes\n", title, a.SeatsAvailable, humanize.Comma(a.CutoffVotes))
		fmt.Fprintln(tw, "Rank\tCandidate\tParty\tVotes\tElected")
		for _, c := range a.Candidates {
			elected := ""
			if c.Elected {
				elected = "*"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", c.Rank, displayName(c), c.PartyCode,
				humanize.Comma(c.TotalVotes), elected)
		}
		fmt.Fprintln(tw)
	}
	d := r.Diagnostics
	fmt.Fprintf(tw, "%s rows from %d pages, %s sections, %s malformed\n",
		humanize.Comma(d.RowsAccepted), d.Pages, humanize.Comma(int64(d.DistinctSections)), humanize.Comma(d.Malformed))
	return tw.Flush()
}

func partiesText(out io.Writer, parties []domain.PartyResult) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Rank\tParty\tVotes\tSeats")
	for _, p := range parties {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", p.Rank, p.PartyCode, humanize.Comma(p.TotalVotes), p.Seats)
	}
	return tw.Flush()
}

func displayName(c domain.CandidateResult) string {
	if c.CandidateName == "" {
		return c.CandidateID
	}
	return c.CandidateName + " (" + c.CandidateID + ")"
}

func percent(f float64) string { return fmt.Sprintf("%.2f%%", f*100) }

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func unknownFormat(f string) error {
	return fmt.Errorf("%w: unknown format %q", domain.ErrInvalidConfiguration, f)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// isSet reports whether name was given on the command line.
func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
