package dynamo

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/docorm/internal/logging"
	"github.com/pay-theory/docorm/internal/match"
	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/index"
)

// cursor reads every candidate item, then sorts and windows in memory
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

func (c *cursor) Count(ctx context.Context) (int, error) {
	recs, err := c.run(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (c *cursor) Iter(ctx context.Context) core.Iterator {
	recs, err := c.run(ctx)
	return &iterator{recs: recs, err: err}
}

func (c *cursor) run(ctx context.Context) ([]core.Record, error) {
	recs, err := c.coll.find(ctx, c.filter)
	if err != nil {
		return nil, err
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

// find returns the records matching filter in identity order. An equality
// on an indexed string field becomes a Query; anything else is a Scan.
// Items are re-checked against the full filter after decoding.
func (c *Collection) find(ctx context.Context, filter core.Document) ([]core.Record, error) {
	specs, err := c.cachedCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if specs == nil {
		return nil, nil
	}

	var items []map[string]types.AttributeValue
	read, keyed := index.NewSelector(index.NewCatalog(specs)).SelectOptimal(filter)
	if keyed && keyable(read.Value, c.keyTypeOf(read.Field)) {
		items, err = c.query(ctx, read, filter)
	} else {
		items, err = c.scan(ctx, filter)
	}
	if isNotFound(err) {
		c.mu.Lock()
		c.catalog = nil
		c.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, failure("find", err)
	}

	var decoded []map[string]any
	if err := attributevalue.UnmarshalListOfMaps(items, &decoded); err != nil {
		return nil, errors.NewStoreFailure("find", 0, err)
	}

	out := make([]core.Record, 0, len(decoded))
	for _, m := range decoded {
		rec := core.Record(m)
		ok, err := match.Match(filter, rec)
		if err != nil {
			return nil, errors.NewStoreFailure("find", 2, err)
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

// keyable reports whether v can be matched against a key attribute of type
// t. Anything else falls back to a scan.
func keyable(v any, t types.ScalarAttributeType) bool {
	switch t {
	case types.ScalarAttributeTypeS:
		s, ok := v.(string)
		return ok && s != ""
	case types.ScalarAttributeTypeN:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
	}
	return false
}

func (c *Collection) query(ctx context.Context, read index.KeyedRead, filter core.Document) ([]map[string]types.AttributeValue, error) {
	b := expression.NewBuilder().
		WithKeyCondition(expression.KeyEqual(expression.Key(read.Field), expression.Value(read.Value)))
	if cond, ok := pushdown(filter, read.Field); ok {
		b = b.WithFilter(cond)
	}
	built, err := b.Build()
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(c.table),
		KeyConditionExpression:    built.KeyCondition(),
		FilterExpression:          built.Filter(),
		ExpressionAttributeNames:  built.Names(),
		ExpressionAttributeValues: built.Values(),
	}
	if read.IndexName != idIndexName {
		input.IndexName = aws.String(read.IndexName)
	}
	logging.Debug().Str("table", c.table).Str("index", read.IndexName).Msg("query")

	var items []map[string]types.AttributeValue
	p := dynamodb.NewQueryPaginator(c.store.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (c *Collection) scan(ctx context.Context, filter core.Document) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(c.table)}
	if cond, ok := pushdown(filter, ""); ok {
		built, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, err
		}
		input.FilterExpression = built.Filter()
		input.ExpressionAttributeNames = built.Names()
		input.ExpressionAttributeValues = built.Values()
	}
	logging.Debug().Str("table", c.table).Bool("filtered", input.FilterExpression != nil).Msg("scan")

	var items []map[string]types.AttributeValue
	p := dynamodb.NewScanPaginator(c.store.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// pushdown builds a server side filter selecting a superset of the records
// matching the string equalities every match must satisfy. A stored list
// matches when it contains the value, so each equality is Equal OR
// contains. Dotted paths are left to the in-memory check since they can
// traverse arrays. except names the key field of a Query, which a filter
// may not reference.
func pushdown(filter core.Document, except string) (expression.ConditionBuilder, bool) {
	var (
		cond expression.ConditionBuilder
		n    int
	)
	eqs := index.AnalyzeEqualities(filter)
	for _, field := range slices.Sorted(maps.Keys(eqs)) {
		s, ok := eqs[field].(string)
		if !ok || s == "" || field == except || strings.Contains(field, ".") {
			continue
		}
		name := expression.Name(field)
		c := expression.Or(name.Equal(expression.Value(s)), name.Contains(s))
		if n == 0 {
			cond = c
		} else {
			cond = cond.And(c)
		}
		n++
	}
	return cond, n > 0
}

// iterator hands out copies of the decoded records
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
