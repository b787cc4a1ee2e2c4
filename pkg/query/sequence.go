package query

import (
	"context"
	"iter"

	"github.com/pay-theory/docorm/internal/logging"
	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/expr"
)

// Sequence is a lazy, finite, restartable result set. It holds a snapshot
// of the QuerySet taken when it was created; every range over Seq executes
// the query again.
type Sequence[T any] struct {
	coll  core.Collection
	model core.Model[T]
	spec  Spec
	err   error
}

// Spec returns a copy of the snapshot the sequence executes
func (s *Sequence[T]) Spec() Spec {
	return s.spec.clone()
}

// cursor compiles the filter and applies order, then skip, then limit.
// Pagination must apply to the sorted, filtered set.
func (s *Sequence[T]) cursor(ctx context.Context) (core.Cursor, error) {
	if s.err != nil {
		return nil, s.err
	}
	filter, err := expr.Compile(s.spec.node())
	if err != nil {
		return nil, err
	}

	logging.Debug().Str("collection", s.coll.Name()).Interface("filter", filter).Msg("executing query")

	cursor := s.coll.Find(ctx, filter)
	if o := s.spec.Order; o != nil {
		cursor = cursor.Sort(o.Field, o.Direction)
	}
	if s.spec.Skip != nil {
		cursor = cursor.Skip(*s.spec.Skip)
	}
	if s.spec.Limit != nil && *s.spec.Limit > 0 {
		cursor = cursor.Limit(*s.spec.Limit)
	}
	return cursor, nil
}

// empty reports an explicit zero limit. Stores read a zero limit as
// "no limit", so it never reaches them.
func (s *Sequence[T]) empty() bool {
	return s.spec.Limit != nil && *s.spec.Limit == 0
}

// Seq executes the query and yields each mapped object. Iteration stops at
// the first error, which is yielded with the zero value.
func (s *Sequence[T]) Seq(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var (
			zero T
			err  error
		)
		done := observe("iterate", s.coll.Name())
		defer func() { done(&err) }()

		if s.err == nil && s.empty() {
			return
		}
		cursor, err := s.cursor(ctx)
		if err != nil {
			err = errors.NewError("iterate", s.coll.Name(), err)
			yield(zero, err)
			return
		}

		it := cursor.Iter(ctx)
		defer it.Close()

		var rec core.Record
		for it.Next(ctx, &rec) {
			obj, mapErr := s.model.FromRecord(rec)
			if mapErr != nil {
				err = errors.NewError("iterate", s.coll.Name(), mapErr)
				yield(zero, err)
				return
			}
			if !yield(obj, nil) {
				return
			}
			rec = nil
		}
		if iterErr := it.Err(); iterErr != nil {
			err = errors.NewError("iterate", s.coll.Name(), iterErr)
			yield(zero, err)
		}
	}
}

// Collect executes the query and gathers every object
func (s *Sequence[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for obj, err := range s.Seq(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}
