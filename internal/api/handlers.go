package api

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/ahrav/go-tally/infrastructure/aggregate"
	"github.com/ahrav/go-tally/infrastructure/export"
	"github.com/ahrav/go-tally/infrastructure/ranking"
	"github.com/ahrav/go-tally/internal/application"
	"github.com/ahrav/go-tally/internal/domain"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

// GeographyResponse is the JSON body of /v1/reports/geography.
type GeographyResponse struct {
	ReportID    string              `json:"report_id"`
	Level       domain.GeoLevel     `json:"level"`
	Summaries   []domain.GeoSummary `json:"summaries"`
	Overall     *domain.GeoSummary  `json:"overall,omitempty"`
	Diagnostics domain.Diagnostics  `json:"diagnostics"`
}

// PartiesResponse is the JSON body of /v1/reports/parties.
type PartiesResponse struct {
	ReportID string               `json:"report_id"`
	Parties  []domain.PartyResult `json:"parties"`
}

func (s *Server) health(c fiber.Ctx) error {
	return c.JSON(s.reporter.Health())
}

func (s *Server) candidates(c fiber.Ctx) error {
	format, err := formatOf(c)
	if err != nil {
		return err
	}
	req, err := reportRequest(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	report, err := s.reporter.Run(ctx, req)
	if err != nil {
		return err
	}

	if format == formatCSV {
		return sendCSV(c, "candidates.csv", export.Candidates(report.Candidates()))
	}
	return c.JSON(report)
}

func (s *Server) parties(c fiber.Ctx) error {
	format, err := formatOf(c)
	if err != nil {
		return err
	}
	req, err := reportRequest(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	report, err := s.reporter.Run(ctx, req)
	if err != nil {
		return err
	}

	if format == formatCSV {
		return sendCSV(c, "parties.csv", export.Parties(report.Parties))
	}
	return c.JSON(PartiesResponse{ReportID: report.ID, Parties: report.Parties})
}

func (s *Server) geography(c fiber.Ctx) error {
	format, err := formatOf(c)
	if err != nil {
		return err
	}
	filter := filterFrom(c, "")
	level, err := domain.ParseGeoLevel(c.Query("level", string(domain.LevelMunicipality)))
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	report, err := s.reporter.Run(ctx, application.ReportRequest{
		Filter:    filter,
		GeoLevels: []domain.GeoLevel{level},
	})
	if err != nil {
		return err
	}

	summaries := report.Geography[level]
	if format == formatCSV {
		return sendCSV(c, "geography.csv", export.Geography(summaries))
	}
	if summaries == nil {
		summaries = []domain.GeoSummary{}
	}
	return c.JSON(GeographyResponse{
		ReportID:    report.ID,
		Level:       level,
		Summaries:   summaries,
		Overall:     report.Overall,
		Diagnostics: report.Diagnostics,
	})
}

func (s *Server) compare(c fiber.Ctx) error {
	format, err := formatOf(c)
	if err != nil {
		return err
	}

	current := filterFrom(c, "")
	baseline := filterFrom(c, "baseline_")
	// Baseline fields default to the current ones, so a plain
	// ?baseline_year=2016 compares the same race four years apart.
	if baseline.Round == 0 {
		baseline.Round = current.Round
	}
	if baseline.OfficeCode == "" {
		baseline.OfficeCode = current.OfficeCode
	}
	if baseline.StateCode == "" {
		baseline.StateCode = current.StateCode
	}
	if baseline.Municipality == "" {
		baseline.Municipality = current.Municipality
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	cmp, err := s.reporter.Compare(ctx, application.CompareRequest{
		Baseline: baseline,
		Current:  current,
		Subject:  c.Query("subject"),
		Level:    domain.GeoLevel(c.Query("level")),
		Metric:   domain.GeoMetric(c.Query("metric")),
	})
	if err != nil {
		return err
	}

	if format == formatCSV {
		return sendCSV(c, "compare.csv", export.Deltas(cmp))
	}
	return c.JSON(cmp)
}

func (s *Server) heatmap(c fiber.Ctx) error {
	format, err := formatOf(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	weights, err := s.reporter.Heatmap(ctx, application.HeatmapRequest{
		Filter: filterFrom(c, ""),
		Level:  domain.GeoLevel(c.Query("level")),
		Metric: domain.GeoMetric(c.Query("metric")),
		Units:  splitList(c.Query("units")),
	})
	if err != nil {
		return err
	}

	if format == formatCSV {
		return sendCSV(c, "heatmap.csv", export.Heatmap(weights))
	}
	if weights == nil {
		weights = []domain.HeatmapWeight{}
	}
	return c.JSON(weights)
}

func (s *Server) requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(c.Context(), s.timeout)
	}
	return context.WithCancel(c.Context())
}

// filterFrom reads a report filter from query parameters. prefix selects
// the baseline_ variants used by /compare. Round defaults to 1 only for
// the unprefixed filter.
func filterFrom(c fiber.Ctx, prefix string) domain.Filter {
	f := domain.Filter{
		ElectionYear: fiber.Query[int](c, prefix+"year"),
		Round:        fiber.Query[int](c, prefix+"round"),
		OfficeCode:   c.Query(prefix + "office"),
		StateCode:    c.Query(prefix + "state"),
		Municipality: c.Query(prefix + "municipality"),
	}
	if prefix == "" && f.Round == 0 {
		f.Round = 1
	}
	return f
}

func reportRequest(c fiber.Ctx) (application.ReportRequest, error) {
	req := application.ReportRequest{Filter: filterFrom(c, "")}

	for _, name := range splitList(c.Query("levels")) {
		level, err := domain.ParseGeoLevel(name)
		if err != nil {
			return req, err
		}
		req.GeoLevels = append(req.GeoLevels, level)
	}

	method, err := ranking.ParseMethod(c.Query("apportionment"))
	if err != nil {
		return req, err
	}
	req.Apportionment = method

	// exclude= with an empty value counts every option.
	if c.Request().URI().QueryArgs().Has("exclude") {
		req.Predicate = aggregate.ExcludeOptions(splitList(c.Query("exclude"))...)
	}
	return req, nil
}

func formatOf(c fiber.Ctx) (string, error) {
	switch f := strings.ToLower(c.Query("format", formatJSON)); f {
	case formatJSON, formatCSV:
		return f, nil
	default:
		return "", fiber.NewError(fiber.StatusBadRequest, "unsupported format "+f)
	}
}

func sendCSV(c fiber.Ctx, filename string, t export.Table) error {
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return export.Write(c, t)
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
