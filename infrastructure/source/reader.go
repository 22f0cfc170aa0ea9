package source

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/sirupsen/logrus"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// Reader defaults.
const (
	DefaultPageSize       = 500
	DefaultPrefetchWindow = 2
	maxPageSize           = 10_000
)

// Metric names emitted when a stream finishes.
const (
	MetricRowsRead      = "source_rows_read_total"
	MetricRowsMalformed = "source_rows_malformed_total"
)

// ReaderConfig tunes pagination.
type ReaderConfig struct {
	// PageSize is the number of rows requested per page.
	PageSize int `yaml:"page_size" validate:"omitempty,min=1,max=10000"`

	// PrefetchWindow is how many pages may be in flight ahead of the
	// consumer. 1 reads strictly sequentially.
	PrefetchWindow int `yaml:"prefetch_window" validate:"omitempty,min=1,max=16"`
}

func (c ReaderConfig) withDefaults() ReaderConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
	if c.PrefetchWindow <= 0 {
		c.PrefetchWindow = DefaultPrefetchWindow
	}
	return c
}

// Reader turns a PageFetcher into a lazy, deduplicated record stream.
// A Reader is safe for concurrent use; every Read call owns its Stream.
type Reader struct {
	fetcher ports.PageFetcher
	config  ReaderConfig
	log     logrus.FieldLogger
	metrics ports.MetricsCollector
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithLogger sets the logger used for stream summaries.
func WithLogger(log logrus.FieldLogger) ReaderOption {
	return func(r *Reader) { r.log = log }
}

// WithMetrics sets the collector that receives row counters.
func WithMetrics(m ports.MetricsCollector) ReaderOption {
	return func(r *Reader) { r.metrics = m }
}

// NewReader creates a Reader over fetcher. The fetcher is normally the
// result of Chain with retry and timeout middlewares applied.
func NewReader(fetcher ports.PageFetcher, config ReaderConfig, opts ...ReaderOption) *Reader {
	r := &Reader{
		fetcher: fetcher,
		config:  config.withDefaults(),
		log:     logrus.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PageSize returns the effective page size.
func (r *Reader) PageSize() int { return r.config.PageSize }

// FetchPage reads the single page at offset. Callers use it to resume a
// stream that failed with a *domain.SourceError, since pages are pure
// reads and offsets are stable.
func (r *Reader) FetchPage(ctx context.Context, filter domain.Filter, offset int) ([]domain.BallotRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	rows, err := r.fetcher.FetchPage(ctx, filter, offset, r.config.PageSize)
	if err != nil {
		return nil, wrapPageError(ctx, offset, err)
	}
	return rows, nil
}

// Read validates filter and starts streaming. Pages are fetched in the
// background, up to PrefetchWindow ahead, and delivered to the Stream in
// offset order. The stream must be closed or drained.
func (r *Reader) Read(ctx context.Context, filter domain.Filter) (*Stream, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	pages := make(chan page)
	s := &Stream{
		ctx:    ctx,
		cancel: cancel,
		pages:  pages,
		filter: filter,
		limit:  r.config.PageSize,
		seen:   make(map[domain.SectionKey]struct{}),
		log:    r.log.WithField("filter", filter.String()),
		reader: r,
		diag:   domain.Diagnostics{MalformedReasons: make(map[string]int)},
	}
	go r.produce(ctx, filter, pages)
	return s, nil
}

type page struct {
	offset int
	rows   []domain.BallotRecord
	err    error
}

// produce keeps up to PrefetchWindow fetches in flight and hands pages to
// the consumer strictly in offset order. It stops after the first short
// page or error; fetches issued past that point are cancelled.
func (r *Reader) produce(ctx context.Context, filter domain.Filter, out chan<- page) {
	defer close(out)

	fetchCtx, cancelFetches := context.WithCancel(ctx)
	defer cancelFetches()

	limit := r.config.PageSize
	next := 0
	var inflight []chan page

	launch := func() {
		ch := make(chan page, 1)
		offset := next
		next += limit
		go func() {
			rows, err := r.fetcher.FetchPage(fetchCtx, filter, offset, limit)
			ch <- page{offset: offset, rows: rows, err: err}
		}()
		inflight = append(inflight, ch)
	}

	for {
		for len(inflight) < r.config.PrefetchWindow {
			launch()
		}

		head := inflight[0]
		inflight = inflight[1:]

		var p page
		select {
		case p = <-head:
		case <-ctx.Done():
			return
		}

		select {
		case out <- p:
		case <-ctx.Done():
			return
		}

		if p.err != nil || len(p.rows) < limit {
			return
		}
	}
}

// Stream is a single-consumer iterator over the flagged records of one
// Read. Use it like bufio.Scanner:
//
//	for s.Next() {
//	    rec := s.Record()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	pages  <-chan page
	filter domain.Filter
	limit  int
	reader *Reader
	log    logrus.FieldLogger

	buf  []domain.BallotRecord
	pos  int
	last bool
	done bool

	seen map[domain.SectionKey]struct{}
	seq  int64
	cur  domain.FlaggedRecord
	err  error
	diag domain.Diagnostics
}

// Next advances to the next accepted record. It returns false at the end
// of the data or on failure; check Err afterwards.
func (s *Stream) Next() bool {
	for !s.done {
		for s.pos < len(s.buf) {
			rec := s.buf[s.pos]
			s.pos++
			if s.accept(rec) {
				return true
			}
		}

		if s.last {
			s.finish(nil)
			return false
		}

		p, ok := <-s.pages
		if !ok {
			s.finish(s.ctx.Err())
			return false
		}
		if p.err != nil {
			s.finish(wrapPageError(s.ctx, p.offset, p.err))
			return false
		}

		s.diag.Pages++
		s.buf, s.pos = p.rows, 0
		s.last = len(p.rows) < s.limit

		if err := s.ctx.Err(); err != nil {
			s.finish(err)
			return false
		}
	}
	return false
}

// accept validates rec and flags the first row seen for its section.
// Rejected rows are only counted.
func (s *Stream) accept(rec domain.BallotRecord) bool {
	s.diag.RowsRead++

	if !s.filter.Matches(rec) {
		s.diag.OffFilter++
		return false
	}

	if err := rec.Validate(); err != nil {
		s.diag.Malformed++
		reason := "unknown"
		var recErr *domain.RecordError
		if errors.As(err, &recErr) {
			reason = recErr.Field + ":" + recErr.Reason
		}
		s.diag.MalformedReasons[reason]++
		return false
	}

	key := rec.SectionKey()
	_, dup := s.seen[key]
	if dup {
		s.diag.DuplicateSectionRows++
	} else {
		s.seen[key] = struct{}{}
	}

	s.cur = domain.FlaggedRecord{BallotRecord: rec, FirstOccurrence: !dup, Seq: s.seq}
	s.seq++
	s.diag.RowsAccepted++
	return true
}

// Record returns the current record. It is valid only after Next returned
// true.
func (s *Stream) Record() domain.FlaggedRecord { return s.cur }

// Err returns the error that ended the stream, if any. It is a
// *domain.SourceError for page failures or the context error on
// cancellation.
func (s *Stream) Err() error { return s.err }

// Diagnostics returns a snapshot of the ingestion counters so far.
func (s *Stream) Diagnostics() domain.Diagnostics {
	d := s.diag
	d.MalformedReasons = maps.Clone(s.diag.MalformedReasons)
	d.DistinctSections = len(s.seen)
	return d
}

// Close stops background fetching. It is safe to call more than once and
// after the stream finished on its own.
func (s *Stream) Close() error {
	if !s.done {
		s.done = true
		s.cancel()
	}
	return nil
}

func (s *Stream) finish(err error) {
	s.done = true
	s.err = err
	s.cancel()

	fields := logrus.Fields{
		"pages":         s.diag.Pages,
		"rows_read":     s.diag.RowsRead,
		"rows_accepted": s.diag.RowsAccepted,
		"malformed":     s.diag.Malformed,
		"off_filter":    s.diag.OffFilter,
		"sections":      len(s.seen),
		"repeat_rows":   s.diag.DuplicateSectionRows,
	}
	if err != nil {
		s.log.WithFields(fields).WithError(err).Error("source stream failed")
	} else {
		s.log.WithFields(fields).Debug("source stream finished")
	}
	if s.diag.Malformed > 0 {
		s.log.WithField("reasons", s.diag.MalformedReasons).Warn("malformed rows skipped")
	}

	if m := s.reader.metrics; m != nil {
		m.RecordCounter(MetricRowsRead, float64(s.diag.RowsRead), nil)
		if s.diag.Malformed > 0 {
			m.RecordCounter(MetricRowsMalformed, float64(s.diag.Malformed), nil)
		}
	}
}

// wrapPageError turns a page failure into a *domain.SourceError unless it
// already is one or the caller cancelled.
func wrapPageError(ctx context.Context, offset int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var srcErr *domain.SourceError
	if errors.As(err, &srcErr) {
		return err
	}
	return domain.NewSourceError(offset, 1, fmt.Errorf("fetch page: %w", err))
}
