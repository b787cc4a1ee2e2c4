package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/expr"
	"github.com/pay-theory/docorm/pkg/mocks"
	"github.com/pay-theory/docorm/pkg/model"
)

var ctx = context.Background()

func newUsers(t *testing.T) (*QuerySet[core.Record], *mocks.MockCollection, *mocks.MockCursor) {
	t.Helper()

	coll := new(mocks.MockCollection)
	coll.On("Name").Return("users")
	cursor := new(mocks.MockCursor)

	qs, err := New[core.Record](mocks.NewStore(coll), model.Records("users",
		core.IndexDescriptor{Field: "email", Unique: true},
		core.IndexDescriptor{Field: "created"},
	))
	require.NoError(t, err)
	return qs, coll, cursor
}

func idIndex() core.IndexSpec {
	return core.IndexSpec{Name: "_id_", Key: []core.IndexKey{{Field: "_id", Direction: core.Ascending}}, Unique: true}
}

func emailIndex() core.IndexSpec {
	return core.IndexSpec{Name: "email_1", Key: []core.IndexKey{{Field: "email", Direction: core.Ascending}}, Unique: true}
}

func TestNew(t *testing.T) {
	_, err := New[core.Record](nil, model.Records("users"))
	var cerr *errors.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "store", cerr.Key)

	coll := new(mocks.MockCollection)
	coll.On("Name").Return("users")
	store := mocks.NewStore(coll)

	_, err = New[core.Record](store, nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	_, err = New[core.Record](store, model.Records("orders"))
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "collection", cerr.Key)

	_, err = New[core.Record](store, model.Records("$cmd"))
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	qs, err := New[core.Record](store, model.Records("users"))
	require.NoError(t, err)
	assert.Same(t, coll, qs.Collection())
}

func TestOrderBy(t *testing.T) {
	qs, _, _ := newUsers(t)

	qs.OrderBy("-created")
	assert.Equal(t, &Order{Field: "created", Direction: core.Descending}, qs.Spec().Order)

	qs.OrderBy("name")
	assert.Equal(t, &Order{Field: "name", Direction: core.Ascending}, qs.Spec().Order)

	qs.OrderBy("-")
	_, err := qs.Iter().Collect(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidField)
	assert.Equal(t, &Order{Field: "name", Direction: core.Ascending}, qs.Spec().Order, "an invalid order keeps the previous one")

	_, err = qs.Compile()
	assert.NoError(t, err, "order errors do not affect the filter")
}

func TestAllKeepsOrderErrors(t *testing.T) {
	qs, coll, _ := newUsers(t)

	qs.Filter(expr.F{"$where": 1}).OrderBy("-$bad").All()
	_, err := qs.Compile()
	require.NoError(t, err)

	_, err = qs.Iter().Collect(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidField)
	assert.Contains(t, err.Error(), "order by")
	coll.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)

	qs.OrderBy("-created")
	assert.Equal(t, &Order{Field: "created", Direction: core.Descending}, qs.Spec().Order)
	assert.NoError(t, qs.orderErr)
}

func TestSliceAndIndex(t *testing.T) {
	qs, _, _ := newUsers(t)

	spec := qs.Slice(2, 5).Spec()
	require.NotNil(t, spec.Skip)
	require.NotNil(t, spec.Limit)
	assert.Equal(t, 2, *spec.Skip)
	assert.Equal(t, 3, *spec.Limit)

	qs, _, _ = newUsers(t)
	spec = qs.Index(5).Spec()
	require.NotNil(t, spec.Limit)
	assert.Equal(t, 5, *spec.Limit)
	assert.Nil(t, spec.Skip)
}

func TestInvalidPagination(t *testing.T) {
	qs, coll, _ := newUsers(t)

	_, err := qs.Slice(5, 2).Collect(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidPagination)

	_, err = qs.Skip(-1).Iter().Collect(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidPagination)

	coll.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
}

func TestIterationAppliesSortSkipLimit(t *testing.T) {
	qs, coll, cursor := newUsers(t)

	filter := core.Document{"age": core.Document{"$gt": 18}}
	coll.On("Find", mock.Anything, filter).Return(cursor)
	cursor.On("Sort", "created", core.Descending).Return(cursor).Once()
	cursor.On("Skip", 2).Return(cursor).Once()
	cursor.On("Limit", 3).Return(cursor).Once()
	cursor.On("Iter", mock.Anything).Return(mocks.NewRecordIterator(
		core.Record{"_id": "c", "age": 40},
		core.Record{"_id": "d", "age": 30},
	)).Once()

	got, err := qs.Filter(expr.F{"age__gt": 18}).OrderBy("-created").Slice(2, 5).Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"_id": "c", "age": 40}, {"_id": "d", "age": 30}}, got)

	coll.AssertExpectations(t)
	cursor.AssertExpectations(t)
}

func TestIndexDoesNotSkip(t *testing.T) {
	qs, coll, cursor := newUsers(t)

	coll.On("Find", mock.Anything, core.Document{}).Return(cursor)
	cursor.On("Limit", 5).Return(cursor)
	cursor.On("Iter", mock.Anything).Return(mocks.NewRecordIterator())

	got, err := qs.Index(5).Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	cursor.AssertNotCalled(t, "Skip", mock.Anything)
	cursor.AssertNotCalled(t, "Sort", mock.Anything, mock.Anything)
}

func TestSequenceIsRestartable(t *testing.T) {
	qs, coll, cursor := newUsers(t)

	first := mocks.NewRecordIterator(core.Record{"_id": "1"}, core.Record{"_id": "2"})
	second := mocks.NewRecordIterator(core.Record{"_id": "1"}, core.Record{"_id": "2"}, core.Record{"_id": "3"})

	coll.On("Find", mock.Anything, core.Document{"name": "lawes"}).Return(cursor)
	cursor.On("Iter", mock.Anything).Return(first).Once()
	cursor.On("Iter", mock.Anything).Return(second).Once()

	seq := qs.Filter(expr.F{"name": "lawes"}).Iter()

	var ids []any
	for rec, err := range seq.Seq(ctx) {
		require.NoError(t, err)
		ids = append(ids, rec.ID())
	}
	assert.Equal(t, []any{"1", "2"}, ids)
	assert.True(t, first.Closed())

	got, err := seq.Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.True(t, second.Closed())

	coll.AssertNumberOfCalls(t, "Find", 2)
}

func TestSequenceEarlyBreakClosesIterator(t *testing.T) {
	qs, coll, cursor := newUsers(t)

	it := mocks.NewRecordIterator(core.Record{"_id": "1"}, core.Record{"_id": "2"})
	coll.On("Find", mock.Anything, core.Document{}).Return(cursor)
	cursor.On("Iter", mock.Anything).Return(it)

	for range qs.Iter().Seq(ctx) {
		break
	}
	assert.True(t, it.Closed())
}

func TestSequenceSnapshot(t *testing.T) {
	qs, _, _ := newUsers(t)

	seq := qs.Filter(expr.F{"name": "lawes"}).Limit(2).Iter()
	qs.Filter(expr.F{"age": 3}).Limit(9).OrderBy("name")

	spec := seq.Spec()
	assert.Equal(t, expr.F{"name": "lawes"}, spec.Fields)
	assert.Equal(t, 2, *spec.Limit)
	assert.Nil(t, spec.Order)
}

func TestSequenceStoreError(t *testing.T) {
	qs, coll, cursor := newUsers(t)

	boom := errors.NewStoreFailure("find", 13, fmt.Errorf("unauthorized"))
	coll.On("Find", mock.Anything, core.Document{}).Return(cursor)
	cursor.On("Iter", mock.Anything).Return(mocks.NewFailingIterator(boom))

	_, err := qs.All().Iter().Collect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsStoreFailure(err))
}

func TestFilterErrorsSurfaceOnExecution(t *testing.T) {
	qs, coll, _ := newUsers(t)

	qs.Filter(expr.F{"$where": "sleep(1000)"})
	_, err := qs.Iter().Collect(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidField)

	_, err = qs.Count(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidField)

	qs.All()
	_, err = qs.Compile()
	assert.NoError(t, err)

	_, err = qs.Get(ctx, expr.F{"name_text__search": 77})
	assert.ErrorIs(t, err, errors.ErrInvalidLookupValue)

	coll.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
}

func TestCompile(t *testing.T) {
	qs, _, _ := newUsers(t)

	doc, err := qs.Filter(expr.F{"name": "lawes"}).Compile()
	require.NoError(t, err)
	assert.Equal(t, core.Document{"name": "lawes"}, doc)

	doc, err = qs.Where(expr.Q("address", "street").Or(expr.Q("age__gt", 2))).Compile()
	require.NoError(t, err)
	assert.Equal(t, core.Document{"$and": []core.Document{
		{"name": "lawes"},
		{"$or": []core.Document{{"address": "street"}, {"age": core.Document{"$gt": 2}}}},
	}}, doc)

	doc, err = qs.All().Compile()
	require.NoError(t, err)
	assert.Equal(t, core.Document{}, doc)
}

func TestCount(t *testing.T) {
	qs, coll, cursor := newUsers(t)

	coll.On("Find", mock.Anything, core.Document{"name": "lawes"}).Return(cursor)
	cursor.On("Limit", 10).Return(cursor)
	cursor.On("Count", mock.Anything).Return(4, nil)

	n, err := qs.Filter(expr.F{"name": "lawes"}).Limit(10).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestGet(t *testing.T) {
	filter := core.Document{"email": "a@b.com"}

	t.Run("no match", func(t *testing.T) {
		qs, coll, cursor := newUsers(t)
		coll.On("Find", mock.Anything, filter).Return(cursor)
		cursor.On("Count", mock.Anything).Return(0, nil)

		_, err := qs.Get(ctx, expr.F{"email": "a@b.com"})
		assert.ErrorIs(t, err, errors.ErrDoesNotExist)
		assert.True(t, errors.IsDoesNotExist(err))
		cursor.AssertNotCalled(t, "Iter", mock.Anything)
	})

	t.Run("multiple matches", func(t *testing.T) {
		qs, coll, cursor := newUsers(t)
		coll.On("Find", mock.Anything, filter).Return(cursor)
		cursor.On("Count", mock.Anything).Return(2, nil)

		_, err := qs.Get(ctx, expr.F{"email": "a@b.com"})
		assert.ErrorIs(t, err, errors.ErrMultipleObjectsReturned)
	})

	t.Run("single match", func(t *testing.T) {
		qs, coll, cursor := newUsers(t)
		coll.On("Find", mock.Anything, filter).Return(cursor)
		cursor.On("Count", mock.Anything).Return(1, nil)
		cursor.On("Iter", mock.Anything).Return(mocks.NewRecordIterator(core.Record{"_id": "u1", "email": "a@b.com"}))

		rec, err := qs.Get(ctx, expr.F{"email": "a@b.com"})
		require.NoError(t, err)
		assert.Equal(t, "u1", rec.ID())
	})

	t.Run("count failure", func(t *testing.T) {
		qs, coll, cursor := newUsers(t)
		coll.On("Find", mock.Anything, filter).Return(cursor)
		cursor.On("Count", mock.Anything).Return(0, errors.NewStoreFailure("count", 2, fmt.Errorf("bad query")))

		_, err := qs.Get(ctx, expr.F{"email": "a@b.com"})
		assert.True(t, errors.IsStoreFailure(err))
		assert.False(t, errors.IsDoesNotExist(err))
	})
}

func TestGetCountsNotFound(t *testing.T) {
	qs, coll, cursor := newUsers(t)
	coll.On("Find", mock.Anything, mock.Anything).Return(cursor)
	cursor.On("Count", mock.Anything).Return(0, nil)

	counter := OperationsTotal.WithLabelValues("get", "users", "not_found")
	before := testutil.ToFloat64(counter)

	_, err := qs.Get(ctx, expr.F{"email": "nobody"})
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestGetOrCreateRequiresUniqueIndex(t *testing.T) {
	qs, coll, _ := newUsers(t)
	coll.On("IndexInformation", mock.Anything).Return(map[string]core.IndexSpec{"_id_": idIndex()}, nil)

	_, _, err := qs.GetOrCreate(ctx, expr.F{"email": "a@b.com", "name": "lawes"})
	require.Error(t, err)
	assert.True(t, errors.IsUnique(err))

	var uerr *errors.UniqueError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, []string{"email", "name"}, uerr.Keys)

	coll.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
	coll.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	coll.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrCreateOnFreshCollection(t *testing.T) {
	qs, coll, _ := newUsers(t)
	coll.On("IndexInformation", mock.Anything).Return(nil, fmt.Errorf("ns not found: %w", errors.ErrCatalogNotEstablished))

	_, _, err := qs.GetOrCreate(ctx, expr.F{"email": "a@b.com"})
	assert.True(t, errors.IsUnique(err))
	coll.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrCreateRejectsLookups(t *testing.T) {
	qs, coll, _ := newUsers(t)

	_, _, err := qs.GetOrCreate(ctx, expr.F{"age__gt": 3})
	assert.ErrorIs(t, err, errors.ErrInvalidOperator)
	coll.AssertNotCalled(t, "IndexInformation", mock.Anything)
}

func TestGetOrCreateExisting(t *testing.T) {
	qs, coll, cursor := newUsers(t)
	coll.On("IndexInformation", mock.Anything).Return(map[string]core.IndexSpec{"_id_": idIndex(), "email_1": emailIndex()}, nil)
	coll.On("Find", mock.Anything, core.Document{"email": "a@b.com"}).Return(cursor)
	cursor.On("Count", mock.Anything).Return(1, nil)
	cursor.On("Iter", mock.Anything).Return(mocks.NewRecordIterator(core.Record{"_id": "u1", "email": "a@b.com"}))

	rec, created, err := qs.GetOrCreate(ctx, expr.F{"email": "a@b.com"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "u1", rec.ID())
	coll.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrCreateCreates(t *testing.T) {
	qs, coll, cursor := newUsers(t)
	coll.On("IndexInformation", mock.Anything).Return(map[string]core.IndexSpec{"_id_": idIndex(), "email_1": emailIndex()}, nil)
	coll.On("Find", mock.Anything, core.Document{"email": "a@b.com"}).Return(cursor)
	cursor.On("Count", mock.Anything).Return(0, nil)
	coll.On("NewID").Return("u9")
	coll.On("Update", mock.Anything, core.Document{"_id": "u9"}, core.Record{"email": "a@b.com"}, true).Return(nil).Once()

	rec, created, err := qs.GetOrCreate(ctx, expr.F{"email": "a@b.com"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, core.Record{"_id": "u9", "email": "a@b.com"}, rec)
	coll.AssertExpectations(t)
}

func TestGetOrCreateMultiple(t *testing.T) {
	qs, coll, cursor := newUsers(t)
	coll.On("IndexInformation", mock.Anything).Return(map[string]core.IndexSpec{"email_1": emailIndex()}, nil)
	coll.On("Find", mock.Anything, mock.Anything).Return(cursor)
	cursor.On("Count", mock.Anything).Return(2, nil)

	_, _, err := qs.GetOrCreate(ctx, expr.F{"email": "a@b.com"})
	assert.ErrorIs(t, err, errors.ErrMultipleObjectsReturned)
	coll.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSaveAndInsert(t *testing.T) {
	qs, coll, _ := newUsers(t)

	rec := core.Record{"_id": "u1", "email": "a@b.com"}
	coll.On("Update", mock.Anything, core.Document{"_id": "u1"}, core.Record{"email": "a@b.com"}, true).Return(nil).Once()

	id, err := qs.Save(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
	assert.Equal(t, core.Record{"_id": "u1", "email": "a@b.com"}, rec, "record is not modified")

	dup := errors.NewStoreFailure("insert", 11000, errors.ErrDuplicateKey)
	coll.On("Insert", mock.Anything, core.Record{"_id": "u1"}).Return(nil, dup)
	_, err = qs.Insert(ctx, core.Record{"_id": "u1"})
	assert.ErrorIs(t, err, errors.ErrDuplicateKey)

	coll.On("Insert", mock.Anything, core.Record{"name": "x"}).Return("u2", nil)
	id, err = qs.Insert(ctx, core.Record{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "u2", id)
}

func TestInitIndex(t *testing.T) {
	qs, coll, _ := newUsers(t)

	live := map[string]core.IndexSpec{"_id_": idIndex()}
	coll.On("IndexInformation", mock.Anything).Return(live, nil)
	coll.On("EnsureIndex", mock.Anything, core.IndexDescriptor{Field: "email", Unique: true}).Return(nil).Run(func(mock.Arguments) {
		live["email_1"] = emailIndex()
	}).Once()
	coll.On("EnsureIndex", mock.Anything, core.IndexDescriptor{Field: "created"}).Return(nil).Run(func(mock.Arguments) {
		live["created_1"] = core.IndexSpec{Name: "created_1", Key: []core.IndexKey{{Field: "created", Direction: core.Ascending}}}
	}).Once()

	n, err := qs.InitIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = qs.InitIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	coll.AssertNumberOfCalls(t, "EnsureIndex", 2)
}

func TestEmptySlice(t *testing.T) {
	qs, coll, _ := newUsers(t)

	got, err := qs.Slice(3, 3).Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := qs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	qs, coll2, _ := newUsers(t)
	got, err = qs.Index(0).Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "a zero limit returns nothing rather than everything")

	coll.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
	coll2.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
}
