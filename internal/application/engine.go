// Package application wires the tally pipeline together: it loads engine
// configuration, opens the configured store and turns report requests into
// reports, comparisons and heatmaps.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-tally/infrastructure/aggregate"
	"github.com/ahrav/go-tally/infrastructure/geo"
	"github.com/ahrav/go-tally/infrastructure/heatmap"
	"github.com/ahrav/go-tally/infrastructure/history"
	"github.com/ahrav/go-tally/infrastructure/ranking"
	"github.com/ahrav/go-tally/infrastructure/source"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/logger"
	"github.com/ahrav/go-tally/internal/ports"
)

const tracerName = "github.com/ahrav/go-tally/internal/application"

// Comparison subjects.
const (
	SubjectGeography  = "geography"
	SubjectCandidates = "candidates"
)

// ReportRequest asks for one report.
type ReportRequest struct {
	Filter domain.Filter

	// GeoLevels lists the rollups to compute. Empty means municipality.
	GeoLevels []domain.GeoLevel

	// Apportionment overrides the configured party seat method. An
	// explicit method fails when the seat count cannot be resolved; the
	// configured default is skipped with a warning instead.
	Apportionment ranking.Method

	// Predicate decides which rows count toward vote totals. Nil uses the
	// configured excluded options. Blank and null options never hold a
	// seat, whatever the predicate.
	Predicate aggregate.Predicate
}

// CompareRequest asks for two independent reports joined on geography.
type CompareRequest struct {
	Baseline domain.Filter
	Current  domain.Filter

	// Subject is SubjectGeography (default) or SubjectCandidates.
	Subject string

	// Level and Metric select the geographic measure. They default to
	// municipality and participation rate.
	Level  domain.GeoLevel
	Metric domain.GeoMetric
}

// HeatmapRequest asks for normalized weights of one metric.
type HeatmapRequest struct {
	Filter domain.Filter
	Level  domain.GeoLevel
	Metric domain.GeoMetric

	// Units restricts the active set to these unit names, compared after
	// normalization. Empty means every unit in the report.
	Units []string
}

// Health is a snapshot of the engine's store connection.
type Health struct {
	Store   string `json:"store"`
	Circuit string `json:"circuit"`
}

// Engine runs reports against one store. Requests are independent and
// may run concurrently; the engine holds no per-request state.
type Engine struct {
	config        *EngineConfig
	fetcher       ports.PageFetcher
	participation ports.ParticipationSource
	seats         ports.SeatTable
	reader        *source.Reader
	comparator    *history.Comparator
	predicate     aggregate.Predicate
	breaker       *source.CircuitBreaker
	storeName     string
	log           logrus.FieldLogger
	metrics       ports.MetricsCollector
	now           func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logrus.FieldLogger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the collector for page, row and report metrics.
func WithMetrics(m ports.MetricsCollector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithParticipation makes geographic rollups read the participation
// table instead of deriving figures from ballot rows. Section level
// rollups still come from ballot rows.
func WithParticipation(p ports.ParticipationSource) EngineOption {
	return func(e *Engine) { e.participation = p }
}

// WithStoreName labels metrics and spans.
func WithStoreName(name string) EngineOption {
	return func(e *Engine) { e.storeName = name }
}

// WithSeatTable replaces the seat table built from the config.
func WithSeatTable(t ports.SeatTable) EngineOption {
	return func(e *Engine) { e.seats = t }
}

// NewEngine creates an engine reading from fetcher. The fetcher is wrapped
// with tracing, metrics, circuit breaker, retry, rate limit and timeout
// middleware, outermost first, according to cfg.
func NewEngine(fetcher ports.PageFetcher, cfg *EngineConfig, opts ...EngineOption) (*Engine, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil page fetcher", domain.ErrInvalidConfiguration)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil engine config", domain.ErrInvalidConfiguration)
	}

	e := &Engine{
		config:    cfg,
		seats:     NewSeatTable(cfg.Seats),
		predicate: aggregate.All,
		storeName: "store",
		log:       logger.Get(logger.Engine),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(cfg.Aggregation.ExcludedOptions) > 0 {
		e.predicate = aggregate.ExcludeOptions(cfg.Aggregation.ExcludedOptions...)
	}

	e.fetcher = source.Chain(fetcher, e.middlewares()...)

	readerOpts := []source.ReaderOption{source.WithLogger(e.log.WithField("component", "reader"))}
	if e.metrics != nil {
		readerOpts = append(readerOpts, source.WithMetrics(e.metrics))
	}
	e.reader = source.NewReader(e.fetcher, cfg.Reader.ReaderConfig, readerOpts...)
	e.comparator = history.New(cfg.History)
	return e, nil
}

func (e *Engine) middlewares() []source.Middleware {
	cfg := e.config
	mws := []source.Middleware{source.TracingMiddleware(e.storeName)}
	if e.metrics != nil {
		mws = append(mws, source.MetricsMiddleware(e.metrics, e.storeName))
	}
	if cfg.CircuitBreaker.MaxFailures > 0 {
		e.breaker = source.NewCircuitBreaker(cfg.CircuitBreaker.MaxFailures, cfg.CircuitBreaker.Cooldown())
		mws = append(mws, source.CircuitBreakerMiddleware(e.breaker))
	}
	mws = append(mws, source.RetryMiddleware(cfg.Retry.Source(), e.log.WithField("component", "retry")))
	if cfg.RateLimit.Enabled() {
		mws = append(mws, source.RateLimitMiddleware(cfg.RateLimit.Limit(), cfg.RateLimit.Burst))
	}
	if d := cfg.Reader.PageTimeout(); d > 0 {
		mws = append(mws, source.TimeoutMiddleware(d))
	}
	return mws
}

// Health reports the store name and circuit state.
func (e *Engine) Health() Health {
	h := Health{Store: e.storeName, Circuit: "disabled"}
	if e.breaker != nil {
		h.Circuit = e.breaker.GetState().String()
	}
	return h
}

// Run streams the filtered rows once and derives rankings, party totals,
// geographic rollups and diagnostics from that single pass.
func (e *Engine) Run(ctx context.Context, req ReportRequest) (*domain.Report, error) {
	start := e.now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("filter", req.Filter.String()),
		attribute.String("store", e.storeName),
	))
	defer span.End()

	report, err := e.run(ctx, req)
	e.observe(span, "report", start, err)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"filter": req.Filter.String(),
			"error":  err.Error(),
		}).Error("report failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("rows", report.Diagnostics.RowsAccepted),
		attribute.Int("sections", report.Diagnostics.DistinctSections),
	)
	if e.metrics != nil {
		e.metrics.RecordGauge("last_report_sections", float64(report.Diagnostics.DistinctSections), nil)
		e.metrics.RecordHistogram("report_rows", float64(report.Diagnostics.RowsAccepted), nil)
	}
	e.log.WithFields(logrus.Fields{
		"report_id": report.ID,
		"filter":    req.Filter.String(),
		"rows":      report.Diagnostics.RowsAccepted,
		"malformed": report.Diagnostics.Malformed,
		"sections":  report.Diagnostics.DistinctSections,
		"elapsed":   e.now().Sub(start).String(),
	}).Info("report generated")
	return report, nil
}

func (e *Engine) run(ctx context.Context, req ReportRequest) (*domain.Report, error) {
	filter := req.Filter
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	levels, err := normalizeLevels(req.GeoLevels)
	if err != nil {
		return nil, err
	}

	office := filter.OfficeCode
	perMunicipality := e.seats.PerMunicipality(office)
	// Fail before reading anything when the race is known up front.
	if !perMunicipality || filter.Municipality != "" {
		if _, err := e.seats.SeatsFor(office, filter.Municipality); err != nil {
			return nil, err
		}
	}

	candidateSpec := domain.ByCandidate
	if perMunicipality {
		candidateSpec = domain.ByMunicipalityCandidate
	}
	specs := []domain.GroupSpec{candidateSpec, domain.ByParty}
	for _, l := range levels {
		specs = append(specs, l.Spec())
	}

	predicate := e.predicate
	if req.Predicate != nil {
		predicate = req.Predicate
	}
	agg, err := aggregate.New(specs,
		aggregate.WithPredicate(predicate),
		aggregate.WithShards(e.config.Aggregation.Shards),
	)
	if err != nil {
		return nil, err
	}

	stream, err := e.reader.Read(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	res, err := agg.Fold(ctx, stream)
	if err != nil {
		return nil, err
	}

	report := &domain.Report{
		ID:          uuid.NewString(),
		Filter:      filter,
		Diagnostics: stream.Diagnostics(),
		GeneratedAt: e.now().UTC(),
	}

	candidates, _ := res.Table(candidateSpec)
	if perMunicipality {
		report.Allocations, err = ranking.RankByMunicipality(candidates, e.seats, office)
	} else {
		var alloc domain.SeatAllocation
		alloc, err = ranking.RankOffice(candidates, e.seats, office)
		report.Allocations = []domain.SeatAllocation{alloc}
	}
	if err != nil {
		return nil, err
	}

	if report.Parties, err = e.parties(res, req, perMunicipality); err != nil {
		return nil, err
	}

	if report.Geography, report.Overall, err = e.geography(ctx, filter, res, levels); err != nil {
		return nil, err
	}
	return report, nil
}

func (e *Engine) parties(res *aggregate.Result, req ReportRequest, perMunicipality bool) ([]domain.PartyResult, error) {
	tbl, _ := res.Table(domain.ByParty)
	parties, err := ranking.RankParties(tbl)
	if err != nil {
		return nil, err
	}

	method, explicit := req.Apportionment, req.Apportionment != ranking.MethodNone
	if !explicit {
		if method, err = ranking.ParseMethod(e.config.Aggregation.Apportionment); err != nil {
			return nil, err
		}
	}
	if method == ranking.MethodNone {
		return parties, nil
	}

	office := req.Filter.OfficeCode
	var seats int
	if perMunicipality && req.Filter.Municipality == "" {
		err = fmt.Errorf("%w: apportionment for %s needs a municipality filter",
			domain.ErrInvalidConfiguration, office)
	} else {
		seats, err = e.seats.SeatsFor(office, req.Filter.Municipality)
	}
	if err != nil {
		if explicit {
			return nil, err
		}
		e.log.WithFields(logrus.Fields{
			"office": office,
			"method": string(method),
			"error":  err.Error(),
		}).Warn("skipping default apportionment")
		return parties, nil
	}
	return ranking.Apportion(parties, seats, method)
}

func (e *Engine) geography(
	ctx context.Context,
	filter domain.Filter,
	res *aggregate.Result,
	levels []domain.GeoLevel,
) (map[domain.GeoLevel][]domain.GeoSummary, *domain.GeoSummary, error) {
	out := make(map[domain.GeoLevel][]domain.GeoSummary, len(levels))

	var participation []domain.ParticipationRow
	fetched := false
	for _, level := range levels {
		var (
			summaries []domain.GeoSummary
			err       error
		)
		if e.participation != nil && level != domain.LevelSection {
			if !fetched {
				if participation, err = e.fetchParticipation(ctx, filter); err != nil {
					return nil, nil, err
				}
				fetched = true
			}
			summaries, err = geo.FromParticipation(participation, level)
		} else {
			tbl, _ := res.Table(level.Spec())
			summaries, err = geo.Rollup(tbl, level, filter.ElectionYear, filter.Round)
		}
		if err != nil {
			return nil, nil, err
		}
		out[level] = summaries
	}

	// Every level partitions the same sections, so any of them sums to
	// the same overall figures.
	return out, geo.Overall(out[levels[0]]), nil
}

func (e *Engine) fetchParticipation(ctx context.Context, filter domain.Filter) ([]domain.ParticipationRow, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.participation")
	defer span.End()

	rows, err := e.participation.FetchParticipation(ctx, filter)
	if err == nil {
		return rows, nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, domain.NewSourceError(0, 1, fmt.Errorf("participation: %w", err))
}

// Compare runs the baseline and current reports concurrently and joins
// them on geography. Either side failing cancels the other.
func (e *Engine) Compare(ctx context.Context, req CompareRequest) (domain.Comparison, error) {
	start := e.now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.compare", trace.WithAttributes(
		attribute.String("baseline", req.Baseline.String()),
		attribute.String("current", req.Current.String()),
	))
	defer span.End()

	cmp, err := e.compare(ctx, req)
	e.observe(span, "compare", start, err)
	return cmp, err
}

func (e *Engine) compare(ctx context.Context, req CompareRequest) (domain.Comparison, error) {
	level, metric, err := levelAndMetric(req.Level, req.Metric)
	if err != nil {
		return domain.Comparison{}, err
	}
	subject := req.Subject
	if subject == "" {
		subject = SubjectGeography
	}
	if subject != SubjectGeography && subject != SubjectCandidates {
		return domain.Comparison{}, fmt.Errorf("%w: unknown comparison subject %q",
			domain.ErrInvalidConfiguration, subject)
	}

	var baseline, current *domain.Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := e.Run(gctx, ReportRequest{Filter: req.Baseline, GeoLevels: []domain.GeoLevel{level}})
		if err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
		baseline = r
		return nil
	})
	g.Go(func() error {
		r, err := e.Run(gctx, ReportRequest{Filter: req.Current, GeoLevels: []domain.GeoLevel{level}})
		if err != nil {
			return fmt.Errorf("current: %w", err)
		}
		current = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Comparison{}, err
	}

	if subject == SubjectCandidates {
		return e.comparator.Compare(
			history.CandidateMeasures(baseline.Candidates()),
			history.CandidateMeasures(current.Candidates()),
		), nil
	}
	return e.comparator.Compare(
		history.GeoMeasures(baseline.Geography[level], metric),
		history.GeoMeasures(current.Geography[level], metric),
	), nil
}

// Heatmap runs a report and normalizes metric over the active units.
func (e *Engine) Heatmap(ctx context.Context, req HeatmapRequest) ([]domain.HeatmapWeight, error) {
	level, metric, err := levelAndMetric(req.Level, req.Metric)
	if err != nil {
		return nil, err
	}
	report, err := e.Run(ctx, ReportRequest{Filter: req.Filter, GeoLevels: []domain.GeoLevel{level}})
	if err != nil {
		return nil, err
	}

	summaries := report.Geography[level]
	if len(req.Units) > 0 {
		active := make(map[string]bool, len(req.Units))
		for _, u := range req.Units {
			active[history.Normalize(u)] = true
		}
		kept := summaries[:0:0]
		for _, s := range summaries {
			if active[history.Normalize(s.Name())] {
				kept = append(kept, s)
			}
		}
		summaries = kept
	}
	return heatmap.Normalize(heatmap.FromSummaries(summaries, metric)), nil
}

func (e *Engine) observe(span trace.Span, op string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = "canceled"
	case errors.Is(err, domain.ErrSourceUnavailable):
		status = "source_unavailable"
	case errors.Is(err, domain.ErrConfigurationMissing):
		status = "configuration_missing"
	default:
		status = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.metrics != nil {
		e.metrics.RecordLatency(op, e.now().Sub(start), map[string]string{"status": status})
	}
}

func normalizeLevels(levels []domain.GeoLevel) ([]domain.GeoLevel, error) {
	if len(levels) == 0 {
		return []domain.GeoLevel{domain.LevelMunicipality}, nil
	}
	seen := make(map[domain.GeoLevel]bool, len(levels))
	out := make([]domain.GeoLevel, 0, len(levels))
	for _, l := range levels {
		if _, err := domain.ParseGeoLevel(string(l)); err != nil {
			return nil, err
		}
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out, nil
}

func levelAndMetric(level domain.GeoLevel, metric domain.GeoMetric) (domain.GeoLevel, domain.GeoMetric, error) {
	if level == "" {
		level = domain.LevelMunicipality
	}
	if metric == "" {
		metric = domain.MetricParticipationRate
	}
	if _, err := domain.ParseGeoLevel(string(level)); err != nil {
		return "", "", err
	}
	if _, err := domain.ParseGeoMetric(string(metric)); err != nil {
		return "", "", err
	}
	return level, metric, nil
}
