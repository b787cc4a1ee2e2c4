// Package query provides the chainable QuerySet over one collection
package query

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pay-theory/docorm/internal/logging"
	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/expr"
	"github.com/pay-theory/docorm/pkg/index"
	"github.com/pay-theory/docorm/pkg/validation"
)

// Order is a sort on one field
type Order struct {
	Field     string
	Direction core.Direction
}

// Spec is the accumulated state of a QuerySet. Unset Skip and Limit are nil.
type Spec struct {
	Fields expr.F
	Where  expr.Node
	Order  *Order
	Skip   *int
	Limit  *int
}

func (s Spec) clone() Spec {
	out := s
	out.Fields = maps.Clone(s.Fields)
	if s.Order != nil {
		o := *s.Order
		out.Order = &o
	}
	if s.Skip != nil {
		n := *s.Skip
		out.Skip = &n
	}
	if s.Limit != nil {
		n := *s.Limit
		out.Limit = &n
	}
	return out
}

// node is the AND of the flat fields and the structured condition
func (s Spec) node() expr.Node {
	return expr.And(expr.QF(s.Fields), s.Where)
}

// QuerySet accumulates a filter, order and window over one collection and
// executes it on demand. A QuerySet is not safe for concurrent use.
type QuerySet[T any] struct {
	coll  core.Collection
	model core.Model[T]
	spec  Spec

	// filterErr holds the first compile error from Filter or Where,
	// orderErr the last invalid OrderBy and pageErr the last invalid window.
	// They surface on the next terminal call.
	filterErr error
	orderErr  error
	pageErr   error
}

// New creates a QuerySet over the model's collection in store
func New[T any](store core.Store, model core.Model[T]) (*QuerySet[T], error) {
	if store == nil {
		return nil, errors.MissingKey("store")
	}
	if model == nil {
		return nil, errors.MissingKey("model")
	}

	name := model.CollectionName()
	if err := validation.ValidateCollectionName(name); err != nil {
		return nil, &errors.ConfigurationError{Key: "collection", Detail: err.Error()}
	}

	coll := store.Collection(name)
	if coll == nil {
		return nil, &errors.ConfigurationError{Key: "collection", Detail: fmt.Sprintf("collection %q is not established", name)}
	}

	return &QuerySet[T]{
		coll:  coll,
		model: model,
		spec:  Spec{Fields: expr.F{}},
	}, nil
}

// Collection returns the collection the QuerySet reads
func (q *QuerySet[T]) Collection() core.Collection {
	return q.coll
}

// Spec returns a copy of the accumulated state
func (q *QuerySet[T]) Spec() Spec {
	return q.spec.clone()
}

// Filter merges fields into the flat filter. Later keys overwrite earlier
// ones. Keys may carry a lookup suffix such as "age__gt".
func (q *QuerySet[T]) Filter(fields expr.F) *QuerySet[T] {
	for k, v := range fields {
		q.spec.Fields[k] = v
	}
	q.check()
	return q
}

// Where ANDs a structured condition into the query
func (q *QuerySet[T]) Where(n expr.Node) *QuerySet[T] {
	q.spec.Where = expr.And(q.spec.Where, n)
	q.check()
	return q
}

// All clears every filter. Order and window are kept, and so are their
// errors.
func (q *QuerySet[T]) All() *QuerySet[T] {
	q.spec.Fields = expr.F{}
	q.spec.Where = nil
	q.filterErr = nil
	return q
}

// OrderBy sorts on field; a leading "-" sorts descending. It replaces any
// previous order.
func (q *QuerySet[T]) OrderBy(field string) *QuerySet[T] {
	dir := core.Ascending
	if name, ok := strings.CutPrefix(field, "-"); ok {
		field, dir = name, core.Descending
	}
	if err := validation.ValidateFieldName(field); err != nil {
		q.orderErr = fmt.Errorf("%w: order by: %v", errors.ErrInvalidField, err)
		return q
	}
	q.spec.Order = &Order{Field: field, Direction: dir}
	q.orderErr = nil
	return q
}

// Skip sets the number of records to skip
func (q *QuerySet[T]) Skip(n int) *QuerySet[T] {
	if n < 0 {
		q.pageErr = fmt.Errorf("%w: skip %d", errors.ErrInvalidPagination, n)
		return q
	}
	q.spec.Skip = &n
	q.pageErr = nil
	return q
}

// Limit caps the number of records returned
func (q *QuerySet[T]) Limit(n int) *QuerySet[T] {
	if n < 0 {
		q.pageErr = fmt.Errorf("%w: limit %d", errors.ErrInvalidPagination, n)
		return q
	}
	q.spec.Limit = &n
	q.pageErr = nil
	return q
}

// Index limits the result to the first i records and returns them as a
// sequence. It does not set skip. Index(0) yields nothing: a zero limit is
// honoured here, unlike a Mongo cursor where limit(0) means no limit, and
// the store is never queried.
func (q *QuerySet[T]) Index(i int) *Sequence[T] {
	return q.Limit(i).Iter()
}

// Slice windows the result to [start, stop) and returns it as a sequence.
// An empty window such as Slice(3, 3) yields nothing, the same as Index(0).
func (q *QuerySet[T]) Slice(start, stop int) *Sequence[T] {
	if start < 0 || stop < start {
		q.pageErr = fmt.Errorf("%w: slice [%d:%d]", errors.ErrInvalidPagination, start, stop)
		return q.Iter()
	}
	n := stop - start
	q.spec.Skip = &start
	q.spec.Limit = &n
	q.pageErr = nil
	return q.Iter()
}

// Compile returns the native filter document for the current filter
func (q *QuerySet[T]) Compile() (core.Document, error) {
	if q.filterErr != nil {
		return nil, q.filterErr
	}
	return expr.Compile(q.spec.node())
}

// Iter snapshots the current state as a restartable sequence
func (q *QuerySet[T]) Iter() *Sequence[T] {
	err := q.filterErr
	if err == nil {
		err = q.orderErr
	}
	if err == nil {
		err = q.pageErr
	}
	return &Sequence[T]{
		coll:  q.coll,
		model: q.model,
		spec:  q.spec.clone(),
		err:   err,
	}
}

// Count returns the number of records the current state would yield
func (q *QuerySet[T]) Count(ctx context.Context) (n int, err error) {
	defer observe("count", q.coll.Name())(&err)

	seq := q.Iter()
	if seq.err == nil && seq.empty() {
		return 0, nil
	}
	cursor, err := seq.cursor(ctx)
	if err != nil {
		return 0, errors.NewError("count", q.coll.Name(), err)
	}
	n, err = cursor.Count(ctx)
	if err != nil {
		return 0, errors.NewError("count", q.coll.Name(), err)
	}
	return n, nil
}

// Get merges fields into the filter and returns the single matching object.
// Zero matches fail with ErrDoesNotExist and more than one with
// ErrMultipleObjectsReturned.
func (q *QuerySet[T]) Get(ctx context.Context, fields expr.F) (obj T, err error) {
	defer observe("get", q.coll.Name())(&err)
	return q.get(ctx, fields)
}

func (q *QuerySet[T]) get(ctx context.Context, fields expr.F) (T, error) {
	var zero T

	q.Filter(fields)
	filter, err := q.Compile()
	if err != nil {
		return zero, errors.NewError("get", q.coll.Name(), err)
	}

	cursor := q.coll.Find(ctx, filter)
	n, err := cursor.Count(ctx)
	if err != nil {
		return zero, errors.NewError("get", q.coll.Name(), err)
	}

	switch {
	case n == 0:
		return zero, errors.NewErrorWithContext("get", q.coll.Name(), errors.ErrDoesNotExist, map[string]any{"keys": keysOf(q.spec.Fields)})
	case n > 1:
		return zero, errors.NewErrorWithContext("get", q.coll.Name(), errors.ErrMultipleObjectsReturned, map[string]any{"count": n})
	}

	it := cursor.Iter(ctx)
	defer it.Close()

	var rec core.Record
	if !it.Next(ctx, &rec) {
		if err := it.Err(); err != nil {
			return zero, errors.NewError("get", q.coll.Name(), err)
		}
		// Removed between count and read
		return zero, errors.NewError("get", q.coll.Name(), errors.ErrDoesNotExist)
	}
	return q.model.FromRecord(rec)
}

// GetOrCreate returns the single object matching fields, creating it when
// nothing matches. Every key must be backed by a unique index, otherwise it
// fails with a *errors.UniqueError before anything is written. The bool
// reports whether the object was created.
func (q *QuerySet[T]) GetOrCreate(ctx context.Context, fields expr.F) (obj T, created bool, err error) {
	defer observe("get_or_create", q.coll.Name())(&err)

	var zero T

	keys := make([]string, 0, len(fields))
	rec := make(core.Record, len(fields)+1)
	for _, k := range keysOf(fields) {
		field, lookup := expr.Translate(k)
		if !lookup.IsExact() {
			return zero, false, errors.NewError("get_or_create", q.coll.Name(),
				fmt.Errorf("%w: %q cannot be used to create a record", errors.ErrInvalidOperator, k))
		}
		keys = append(keys, field)
		rec[field] = fields[k]
	}

	if err := index.NewGuard(q.coll).Check(ctx, keys); err != nil {
		return zero, false, err
	}

	obj, err = q.get(ctx, fields)
	if err == nil {
		return obj, false, nil
	}
	if !errors.IsDoesNotExist(err) {
		return zero, false, err
	}

	id, err := q.Save(ctx, rec)
	if err != nil {
		return zero, false, err
	}
	rec[core.IDKey] = id

	logging.Debug().Str("collection", q.coll.Name()).Interface("id", id).Msg("created record")

	obj, err = q.model.FromRecord(rec)
	if err != nil {
		return zero, false, err
	}
	return obj, true, nil
}

// Insert stores rec as a new record and returns its identity
func (q *QuerySet[T]) Insert(ctx context.Context, rec core.Record) (id any, err error) {
	defer observe("insert", q.coll.Name())(&err)

	id, err = q.coll.Insert(ctx, rec)
	if err != nil {
		return nil, errors.NewError("insert", q.coll.Name(), err)
	}
	return id, nil
}

// Save upserts rec by identity, assigning a fresh identity when rec has
// none. rec is not modified.
func (q *QuerySet[T]) Save(ctx context.Context, rec core.Record) (id any, err error) {
	defer observe("save", q.coll.Name())(&err)

	id = rec.ID()
	if id == nil {
		id = q.coll.NewID()
	}
	set := rec.Clone()
	delete(set, core.IDKey)

	if err := q.coll.Update(ctx, core.Document{core.IDKey: id}, set, true); err != nil {
		return nil, errors.NewError("save", q.coll.Name(), err)
	}
	return id, nil
}

// InitIndex creates or upgrades the indexes declared on the model and
// returns the number of index mutations issued. Callers must serialise it
// against writes on the same collection.
func (q *QuerySet[T]) InitIndex(ctx context.Context) (n int, err error) {
	defer observe("init_index", q.coll.Name())(&err)
	return index.NewManager(q.coll).Ensure(ctx, q.model.Indexes())
}

func (q *QuerySet[T]) check() {
	if q.filterErr != nil {
		return
	}
	if err := expr.Validate(q.spec.node()); err != nil {
		q.filterErr = err
	}
}

func keysOf(fields expr.F) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
