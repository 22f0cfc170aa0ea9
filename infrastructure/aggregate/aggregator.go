package aggregate

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-tally/internal/domain"
)

const (
	// shardBatch is the number of records handed to a shard at once.
	shardBatch = 256
	// cancelCheckEvery bounds how many records are folded between
	// context checks in sequential mode.
	cancelCheckEvery = 4096
)

// RecordIterator is the consumer side of a record stream.
// *source.Stream satisfies it.
type RecordIterator interface {
	Next() bool
	Record() domain.FlaggedRecord
	Err() error
}

// Result holds one table per requested spec.
type Result struct {
	tables map[string]*Table
	order  []domain.GroupSpec
	rows   int64
}

func newResult(specs []domain.GroupSpec) *Result {
	r := &Result{tables: make(map[string]*Table, len(specs)), order: specs}
	for _, s := range specs {
		r.tables[s.String()] = NewTable(s)
	}
	return r
}

// Table returns the table folded for spec.
func (r *Result) Table(spec domain.GroupSpec) (*Table, bool) {
	t, ok := r.tables[spec.String()]
	return t, ok
}

// Specs returns the folded specs in request order.
func (r *Result) Specs() []domain.GroupSpec { return r.order }

// Rows returns the number of records folded.
func (r *Result) Rows() int64 { return r.rows }

func (r *Result) add(rec domain.FlaggedRecord, counted bool) {
	r.rows++
	for _, t := range r.tables {
		t.Add(rec, counted)
	}
}

// Merge folds other into r. Both results must come from the same
// Aggregator.
func (r *Result) Merge(other *Result) error {
	for id, t := range r.tables {
		if err := t.Merge(other.tables[id]); err != nil {
			return err
		}
	}
	r.rows += other.rows
	return nil
}

// Aggregator folds record streams for a fixed set of specs.
type Aggregator struct {
	specs     []domain.GroupSpec
	predicate Predicate
	shards    int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPredicate sets the vote predicate. The default counts every row.
func WithPredicate(p Predicate) Option {
	return func(a *Aggregator) {
		if p != nil {
			a.predicate = p
		}
	}
}

// WithShards folds in n goroutines, partitioning rows by municipality.
// n <= 1 folds sequentially.
func WithShards(n int) Option {
	return func(a *Aggregator) { a.shards = n }
}

// New creates an Aggregator for specs. Duplicate specs are folded once.
func New(specs []domain.GroupSpec, opts ...Option) (*Aggregator, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one group spec is required", domain.ErrInvalidConfiguration)
	}

	seen := make(map[string]bool, len(specs))
	var unique []domain.GroupSpec
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.String()] {
			continue
		}
		seen[s.String()] = true
		unique = append(unique, s)
	}

	a := &Aggregator{specs: unique, predicate: All, shards: 1}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Fold consumes it to exhaustion and returns the grouped totals. An
// iterator error aborts the fold and is returned as is.
func (a *Aggregator) Fold(ctx context.Context, it RecordIterator) (*Result, error) {
	if a.shards <= 1 {
		return a.foldSequential(ctx, it)
	}
	return a.foldSharded(ctx, it)
}

func (a *Aggregator) foldSequential(ctx context.Context, it RecordIterator) (*Result, error) {
	res := newResult(a.specs)
	for it.Next() {
		rec := it.Record()
		res.add(rec, a.predicate(rec.BallotRecord))
		if res.rows%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// foldSharded routes each municipality to one shard so a section is never
// split across shards, then merges the partial results under a lock.
func (a *Aggregator) foldSharded(ctx context.Context, it RecordIterator) (*Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	inputs := make([]chan []domain.FlaggedRecord, a.shards)
	for i := range inputs {
		inputs[i] = make(chan []domain.FlaggedRecord, 2)
	}

	final := newResult(a.specs)
	var mu sync.Mutex

	for i := range inputs {
		in := inputs[i]
		g.Go(func() error {
			partial := newResult(a.specs)
			for batch := range in {
				for _, rec := range batch {
					partial.add(rec, a.predicate(rec.BallotRecord))
				}
			}
			mu.Lock()
			defer mu.Unlock()
			return final.Merge(partial)
		})
	}

	g.Go(func() error {
		defer func() {
			for _, in := range inputs {
				close(in)
			}
		}()

		batches := make([][]domain.FlaggedRecord, a.shards)
		flush := func(i int) error {
			if len(batches[i]) == 0 {
				return nil
			}
			select {
			case inputs[i] <- batches[i]:
				batches[i] = make([]domain.FlaggedRecord, 0, shardBatch)
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		for it.Next() {
			rec := it.Record()
			i := int(xxhash.Sum64String(rec.MunicipalityName) % uint64(a.shards))
			batches[i] = append(batches[i], rec)
			if len(batches[i]) >= shardBatch {
				if err := flush(i); err != nil {
					return err
				}
			}
		}
		if err := it.Err(); err != nil {
			return err
		}
		for i := range batches {
			if err := flush(i); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return final, nil
}
