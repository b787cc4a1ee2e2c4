package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/expr"
)

var lawes = core.Record{
	"_id":     "1",
	"name":    "lawes",
	"sex":     1,
	"age":     float64(30),
	"address": "lawes street1",
	"tags":    []any{"admin", "ops"},
	"profile": map[string]any{"city": "Lisbon", "zip": 1000},
	"bio":     "Likes\nwalking slowly",
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter core.Document
		want   bool
	}{
		{"empty filter", core.Document{}, true},
		{"equality", core.Document{"name": "lawes"}, true},
		{"equality mismatch", core.Document{"name": "other"}, false},
		{"numeric types compare by value", core.Document{"sex": float64(1)}, true},
		{"missing field equals nil", core.Document{"deleted": nil}, true},
		{"missing field not equal to value", core.Document{"deleted": true}, false},
		{"array contains scalar", core.Document{"tags": "ops"}, true},
		{"array does not contain", core.Document{"tags": "dev"}, false},
		{"nested path", core.Document{"profile.city": "Lisbon"}, true},
		{"gt", core.Document{"age": core.Document{"$gt": 2}}, true},
		{"gte boundary", core.Document{"age": core.Document{"$gte": 30}}, true},
		{"lt", core.Document{"age": core.Document{"$lt": 30}}, false},
		{"lte", core.Document{"age": core.Document{"$lte": int64(30)}}, true},
		{"range", core.Document{"age": core.Document{"$gt": 18, "$lt": 65}}, true},
		{"gt across types never matches", core.Document{"name": core.Document{"$gt": 2}}, false},
		{"gt on missing field", core.Document{"height": core.Document{"$gt": 2}}, false},
		{"ne", core.Document{"sex": core.Document{"$ne": 2}}, true},
		{"ne equal", core.Document{"sex": core.Document{"$ne": 1}}, false},
		{"ne missing field", core.Document{"height": core.Document{"$ne": 2}}, true},
		{"regex", core.Document{"name": core.Document{"$regex": "l.*s", "$options": "si"}}, true},
		{"regex case insensitive", core.Document{"name": core.Document{"$regex": "LAWES", "$options": "i"}}, true},
		{"regex case sensitive", core.Document{"name": core.Document{"$regex": "LAWES"}}, false},
		{"regex dotall", core.Document{"bio": core.Document{"$regex": "likes.*slowly", "$options": "si"}}, true},
		{"regex on number", core.Document{"age": core.Document{"$regex": "3"}}, false},
		{
			"and",
			core.Document{"$and": []core.Document{{"name": "lawes"}, {"sex": 1}}},
			true,
		},
		{
			"and fails",
			core.Document{"$and": []core.Document{{"name": "lawes"}, {"sex": 2}}},
			false,
		},
		{
			"or",
			core.Document{"$or": []core.Document{{"address": "nowhere"}, {"age": core.Document{"$gt": 2}}}},
			true,
		},
		{
			"or fails",
			core.Document{"$or": []core.Document{{"address": "nowhere"}, {"age": core.Document{"$gt": 99}}}},
			false,
		},
		{
			"or as []any",
			core.Document{"$or": []any{map[string]any{"name": "x"}, map[string]any{"name": "lawes"}}},
			true,
		},
		{
			"literal sub document",
			core.Document{"profile": map[string]any{"city": "Lisbon", "zip": 1000}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.filter, lawes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchCompiledExpressions(t *testing.T) {
	filter, err := expr.Compile(
		expr.Q("name", "lawes").And(expr.Q("sex", 1)).And(
			expr.Q("address", "lawes street1").Or(expr.Q("age__gt", 2)),
		),
	)
	require.NoError(t, err)

	ok, err := Match(filter, lawes)
	require.NoError(t, err)
	assert.True(t, ok)

	filter, err = expr.CompileFields(expr.F{"address_text__search": "lst1"})
	require.NoError(t, err)
	ok, err = Match(filter, lawes)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchErrors(t *testing.T) {
	_, err := Match(core.Document{"$where": "1"}, lawes)
	assert.ErrorIs(t, err, errors.ErrInvalidOperator)

	_, err = Match(core.Document{"age": core.Document{"$in": []int{1}}}, lawes)
	assert.ErrorIs(t, err, errors.ErrInvalidOperator)

	_, err = Match(core.Document{"$and": "nope"}, lawes)
	assert.ErrorIs(t, err, errors.ErrInvalidOperator)

	_, err = Match(core.Document{"name": core.Document{"$regex": "("}}, lawes)
	assert.ErrorIs(t, err, errors.ErrInvalidLookupValue)

	_, err = Match(core.Document{"name": core.Document{"$regex": "a", "$options": "x"}}, lawes)
	assert.ErrorIs(t, err, errors.ErrInvalidOperator)
}

func TestCompare(t *testing.T) {
	now := time.Now()

	assert.Equal(t, 0, Compare(1, float64(1)))
	assert.Equal(t, -1, Compare(1, 2.5))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare(nil, 0))
	assert.Equal(t, -1, Compare(99, "a"))
	assert.Equal(t, -1, Compare(false, true))
	assert.Equal(t, 1, Compare(now.Add(time.Second), now))
	assert.Equal(t, -1, Compare([]any{1, 2}, []any{1, 3}))
	assert.Equal(t, 0, Compare(map[string]any{"a": 1}, map[string]any{"a": 1.0}))
}

func TestSortAndWindow(t *testing.T) {
	recs := []core.Record{
		{"_id": "a", "n": 3},
		{"_id": "b"},
		{"_id": "c", "n": 1},
		{"_id": "d", "n": 2.5},
	}

	SortRecords(recs, "n", core.Ascending)
	assert.Equal(t, []any{"b", "c", "d", "a"}, ids(recs))

	SortRecords(recs, "n", core.Descending)
	assert.Equal(t, []any{"a", "d", "c", "b"}, ids(recs))

	assert.Equal(t, []any{"d", "c"}, ids(Window(recs, 1, 2)))
	assert.Equal(t, []any{"c", "b"}, ids(Window(recs, 2, -1)))
	assert.Empty(t, Window(recs, 10, -1))
	assert.Empty(t, Window(recs, 0, 0))
}

func ids(recs []core.Record) []any {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID())
	}
	return out
}
