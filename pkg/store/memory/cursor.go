package memory

import (
	"context"

	"github.com/hashicorp/go-memdb"

	"github.com/pay-theory/docorm/internal/match"
	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/index"
)

type cursor struct {
	coll   *Collection
	filter core.Document
	order  *core.IndexKey
	skip   int
	limit  int
}

func (c *cursor) Sort(field string, direction core.Direction) core.Cursor {
	c.order = &core.IndexKey{Field: field, Direction: direction}
	return c
}

func (c *cursor) Skip(n int) core.Cursor {
	c.skip = n
	return c
}

// Limit caps the result; zero means no limit
func (c *cursor) Limit(n int) core.Cursor {
	c.limit = n
	return c
}

func (c *cursor) Count(_ context.Context) (int, error) {
	recs, err := c.run()
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (c *cursor) Iter(_ context.Context) core.Iterator {
	recs, err := c.run()
	return &iterator{recs: recs, err: err}
}

func (c *cursor) run() ([]core.Record, error) {
	db, specs := c.coll.snapshot()
	if db == nil {
		return nil, nil
	}

	recs, err := scan(db.Txn(false), specs, c.filter)
	if err != nil {
		return nil, errors.NewStoreFailure("find", 2, err)
	}
	if c.order != nil {
		match.SortRecords(recs, c.order.Field, c.order.Direction)
	}
	limit := c.limit
	if limit <= 0 {
		limit = -1
	}
	return match.Window(recs, c.skip, limit), nil
}

// scan returns the stored records matching filter in identity order,
// reading through an index when the filter pins an indexed field
func scan(txn *memdb.Txn, specs map[string]core.IndexSpec, filter core.Document) ([]core.Record, error) {
	var (
		it  memdb.ResultIterator
		err error
	)
	if read, ok := index.NewSelector(index.NewCatalog(specs)).SelectOptimal(filter); ok {
		name := read.IndexName
		if name == idIndexName {
			name = indexID
		}
		it, err = txn.Get(tableRecords, name, read.Value)
	} else {
		it, err = txn.Get(tableRecords, indexID)
	}
	if err != nil {
		return nil, err
	}

	var out []core.Record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rec := obj.(core.Record)
		ok, err := match.Match(filter, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	if len(out) > 1 {
		match.SortRecords(out, core.IDKey, core.Ascending)
	}
	return out, nil
}

// iterator hands out copies so callers never alias stored records
type iterator struct {
	recs []core.Record
	pos  int
	err  error
}

func (it *iterator) Next(_ context.Context, rec *core.Record) bool {
	if it.err != nil || it.pos >= len(it.recs) {
		return false
	}
	*rec = it.recs[it.pos].Clone()
	it.pos++
	return true
}

func (it *iterator) Err() error { return it.err }

func (it *iterator) Close() error {
	it.recs = nil
	return it.err
}
