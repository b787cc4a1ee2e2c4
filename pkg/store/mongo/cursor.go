package mongo

import (
	"context"
	"time"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/pay-theory/docorm/pkg/core"
)

type cursor struct {
	coll   *Collection
	filter core.Document
	sort   []string
	skip   int
	limit  int
}

func (c *cursor) Sort(field string, direction core.Direction) core.Cursor {
	c.sort = []string{sortKey(field, direction)}
	return c
}

func (c *cursor) Skip(n int) core.Cursor {
	c.skip = n
	return c
}

func (c *cursor) Limit(n int) core.Cursor {
	c.limit = n
	return c
}

// query builds the mgo query on ses
func (c *cursor) query(ses *mgo.Session) *mgo.Query {
	q := ses.DB(c.coll.store.database).C(c.coll.name).Find(bson.M(c.filter))
	if len(c.sort) > 0 {
		q = q.Sort(c.sort...)
	}
	if c.skip > 0 {
		q = q.Skip(c.skip)
	}
	if c.limit > 0 {
		q = q.Limit(c.limit)
	}
	return q
}

func (c *cursor) Count(ctx context.Context) (int, error) {
	var n int
	err := c.coll.execute(ctx, func(col *mgo.Collection) error {
		var err error
		n, err = c.query(col.Database.Session).Count()
		return err
	})
	if err != nil {
		return 0, failure("count", err)
	}
	return n, nil
}

// Iter executes the query. The iterator owns a session copy until Close.
func (c *cursor) Iter(ctx context.Context) core.Iterator {
	if err := ctx.Err(); err != nil {
		return &iterator{err: err}
	}
	ses := c.coll.store.session.Copy()
	if deadline, ok := ctx.Deadline(); ok {
		ses.SetSocketTimeout(time.Until(deadline))
	}
	return &iterator{ses: ses, it: c.query(ses).Iter()}
}

type iterator struct {
	ses *mgo.Session
	it  *mgo.Iter
	err error
}

func (i *iterator) Next(ctx context.Context, rec *core.Record) bool {
	if i.it == nil || i.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		i.err = err
		return false
	}
	var doc bson.M
	if !i.it.Next(&doc) {
		return false
	}
	*rec = core.Record(doc)
	return true
}

func (i *iterator) Err() error {
	if i.err != nil {
		return i.err
	}
	if i.it != nil {
		return failure("find", i.it.Err())
	}
	return nil
}

func (i *iterator) Close() error {
	var err error
	if i.it != nil {
		err = failure("find", i.it.Close())
		i.it = nil
	}
	if i.ses != nil {
		i.ses.Close()
		i.ses = nil
	}
	if i.err != nil {
		return i.err
	}
	return err
}
