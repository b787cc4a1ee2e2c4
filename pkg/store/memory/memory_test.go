package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/expr"
	"github.com/pay-theory/docorm/pkg/model"
	"github.com/pay-theory/docorm/pkg/query"
)

var ctx = context.Background()

func seed(t *testing.T, coll core.Collection, recs ...core.Record) {
	t.Helper()
	for _, rec := range recs {
		_, err := coll.Insert(ctx, rec)
		require.NoError(t, err)
	}
}

func collect(t *testing.T, c core.Cursor) []core.Record {
	t.Helper()
	it := c.Iter(ctx)
	defer it.Close()

	var out []core.Record
	var rec core.Record
	for it.Next(ctx, &rec) {
		out = append(out, rec)
	}
	require.NoError(t, it.Err())
	return out
}

func ids(recs []core.Record) []any {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID())
	}
	return out
}

func TestCatalogBeforeFirstWrite(t *testing.T) {
	coll := New().Collection("users")

	_, err := coll.IndexInformation(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCatalogNotEstablished(err))

	var sf *errors.StoreOperationFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, errors.CodeNamespaceNotFound, sf.Code)

	assert.Empty(t, collect(t, coll.Find(ctx, core.Document{})))
}

func TestInsertAndFind(t *testing.T) {
	store := New()
	coll := store.Collection("users")
	assert.Same(t, coll, store.Collection("users"))

	seed(t, coll,
		core.Record{"_id": "1", "name": "lawes", "age": 30},
		core.Record{"_id": "2", "name": "kim", "age": 25},
		core.Record{"_id": "3", "name": "ana", "age": 41},
	)

	id, err := coll.Insert(ctx, core.Record{"name": "generated"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = coll.Insert(ctx, core.Record{"_id": "1"})
	assert.ErrorIs(t, err, errors.ErrDuplicateKey)

	got := collect(t, coll.Find(ctx, core.Document{"age": core.Document{"$gte": 30}}))
	assert.Equal(t, []any{"1", "3"}, ids(got))

	got = collect(t, coll.Find(ctx, core.Document{}).Sort("age", core.Descending).Skip(1).Limit(2))
	assert.Equal(t, []any{"1", "2"}, ids(got))

	n, err := coll.Find(ctx, core.Document{"name": core.Document{"$regex": "A", "$options": "i"}}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRecordsAreCopied(t *testing.T) {
	coll := New().Collection("users")
	rec := core.Record{"_id": "1", "name": "lawes"}
	seed(t, coll, rec)

	rec["name"] = "changed"
	got := collect(t, coll.Find(ctx, core.Document{"_id": "1"}))
	require.Len(t, got, 1)
	assert.Equal(t, "lawes", got[0]["name"])

	got[0]["name"] = "changed again"
	got = collect(t, coll.Find(ctx, core.Document{"_id": "1"}))
	assert.Equal(t, "lawes", got[0]["name"])
}

func TestUpdate(t *testing.T) {
	coll := New().Collection("users")
	seed(t, coll, core.Record{"_id": "1", "name": "lawes", "age": 30})

	require.NoError(t, coll.Update(ctx, core.Document{"name": "lawes"}, core.Record{"age": 31}, false))
	got := collect(t, coll.Find(ctx, core.Document{"_id": "1"}))
	assert.Equal(t, core.Record{"_id": "1", "name": "lawes", "age": 31}, got[0])

	require.NoError(t, coll.Update(ctx, core.Document{"name": "nobody"}, core.Record{"age": 1}, false))
	n, _ := coll.Find(ctx, core.Document{}).Count(ctx)
	assert.Equal(t, 1, n)

	require.NoError(t, coll.Update(ctx, core.Document{"_id": "2"}, core.Record{"name": "kim"}, true))
	got = collect(t, coll.Find(ctx, core.Document{"_id": "2"}))
	assert.Equal(t, []core.Record{{"_id": "2", "name": "kim"}}, got)

	err := coll.Update(ctx, core.Document{"_id": "1"}, core.Record{"_id": "9"}, false)
	assert.True(t, errors.IsStoreFailure(err))
}

func TestEnsureIndex(t *testing.T) {
	coll := New().Collection("users")
	seed(t, coll,
		core.Record{"_id": "1", "email": "a@b.com", "team": "x", "tags": []any{"ops", "admin"}},
		core.Record{"_id": "2", "email": "c@d.com", "team": "x"},
	)

	require.NoError(t, coll.EnsureIndex(ctx, core.IndexDescriptor{Field: "email", Unique: true}))
	require.NoError(t, coll.EnsureIndex(ctx, core.IndexDescriptor{Field: "team"}))
	require.NoError(t, coll.EnsureIndex(ctx, core.IndexDescriptor{Field: "tags"}))

	specs, err := coll.IndexInformation(ctx)
	require.NoError(t, err)
	assert.Len(t, specs, 4)
	assert.True(t, specs["_id_"].Unique)
	assert.True(t, specs["email_1"].Unique)
	assert.False(t, specs["team_1"].Unique)

	_, err = coll.Insert(ctx, core.Record{"_id": "3", "email": "a@b.com"})
	assert.ErrorIs(t, err, errors.ErrDuplicateKey)

	err = coll.Update(ctx, core.Document{"_id": "2"}, core.Record{"email": "a@b.com"}, false)
	assert.ErrorIs(t, err, errors.ErrDuplicateKey)

	got := collect(t, coll.Find(ctx, core.Document{"team": "x"}))
	assert.Equal(t, []any{"1", "2"}, ids(got))

	got = collect(t, coll.Find(ctx, core.Document{"tags": "admin"}))
	assert.Equal(t, []any{"1"}, ids(got))

	err = coll.EnsureIndex(ctx, core.IndexDescriptor{Field: "team", Unique: true})
	assert.ErrorIs(t, err, errors.ErrDuplicateKey)
	specs, _ = coll.IndexInformation(ctx)
	assert.False(t, specs["team_1"].Unique, "failed upgrade leaves the catalog unchanged")

	assert.Error(t, coll.EnsureIndex(ctx, core.IndexDescriptor{Field: "$where"}))
}

func TestIndexedTypedSlices(t *testing.T) {
	coll := New().Collection("posts")
	seed(t, coll,
		core.Record{"_id": "1", "tags": []string{"go", "db"}, "codes": []int{7}},
		core.Record{"_id": "2", "tags": []string{"ops"}},
	)

	got := collect(t, coll.Find(ctx, core.Document{"tags": "go"}))
	assert.Equal(t, []any{"1"}, ids(got))

	require.NoError(t, coll.EnsureIndex(ctx, core.IndexDescriptor{Field: "tags"}))
	require.NoError(t, coll.EnsureIndex(ctx, core.IndexDescriptor{Field: "codes", Unique: true}))

	got = collect(t, coll.Find(ctx, core.Document{"tags": "go"}))
	assert.Equal(t, []any{"1"}, ids(got))

	got = collect(t, coll.Find(ctx, core.Document{"codes": 7.0}))
	assert.Equal(t, []any{"1"}, ids(got))

	_, err := coll.Insert(ctx, core.Record{"_id": "3", "codes": []int64{9, 7}})
	assert.ErrorIs(t, err, errors.ErrDuplicateKey)

	_, err = coll.Insert(ctx, core.Record{"_id": "4", "codes": []any{7}})
	assert.ErrorIs(t, err, errors.ErrDuplicateKey)
}

type User struct {
	ID    string `bson:"_id"`
	Email string `bson:"email" docorm:"unique"`
	Name  string `bson:"name" docorm:"index"`
	Age   int    `bson:"age"`
}

func TestQuerySetOverMemory(t *testing.T) {
	store := New()
	m, err := model.Struct[User]()
	require.NoError(t, err)

	users := func() *query.QuerySet[User] {
		qs, err := query.New[User](store, m)
		require.NoError(t, err)
		return qs
	}

	_, _, err = users().GetOrCreate(ctx, expr.F{"email": "a@b.com"})
	assert.True(t, errors.IsUnique(err), "no unique index yet")

	n, err := users().InitIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = users().InitIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	u, created, err := users().GetOrCreate(ctx, expr.F{"email": "a@b.com"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "a@b.com", u.Email)

	again, created, err := users().GetOrCreate(ctx, expr.F{"email": "a@b.com"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)

	for i, name := range []string{"lawes", "kim", "ana", "bo", "cy", "di"} {
		_, err := users().Save(ctx, core.Record{"_id": name, "name": name, "age": 20 + i})
		require.NoError(t, err)
	}

	page, err := users().Filter(expr.F{"age__gte": 20}).OrderBy("-age").Slice(2, 5).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"bo", "ana", "kim"}, []string{page[0].Name, page[1].Name, page[2].Name})

	first, err := users().Filter(expr.F{"age__gte": 20}).OrderBy("age").Index(2).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "lawes", first[0].Name)

	_, err = users().Get(ctx, expr.F{"name": "nobody"})
	assert.True(t, errors.IsDoesNotExist(err))

	_, err = users().Get(ctx, expr.F{"age__lt": 23})
	assert.True(t, errors.IsMultipleObjectsReturned(err))

	kim, err := users().Get(ctx, expr.F{"age": 21})
	require.NoError(t, err)
	assert.Equal(t, "kim", kim.ID)

	got, err := users().Where(expr.Q("name_text__search", "aw").Or(expr.Q("age", 25))).OrderBy("name").Iter().Collect(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "di", got[0].Name)
	assert.Equal(t, "lawes", got[1].Name)

	count, err := users().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}
