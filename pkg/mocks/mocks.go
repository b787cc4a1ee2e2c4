// Package mocks provides mock implementations for docorm interfaces.
//
// The query layer only talks to a store through core.Collection, core.Cursor
// and core.Iterator, so these mocks are enough to unit test code built on a
// QuerySet without a running database.
//
// # Basic Usage
//
//	func TestUserLookup(t *testing.T) {
//	    coll := new(mocks.MockCollection)
//	    cursor := new(mocks.MockCursor)
//
//	    coll.On("Name").Return("users")
//	    coll.On("Find", mock.Anything, core.Document{"email": "a@b.com"}).Return(cursor)
//	    cursor.On("Count", mock.Anything).Return(1, nil)
//	    cursor.On("Limit", 2).Return(cursor)
//	    cursor.On("Iter", mock.Anything).Return(mocks.NewRecordIterator(core.Record{"_id": "1"}))
//
//	    users, _ := query.New[core.Record](mocks.NewStore(coll), model.Records("users"))
//	    rec, err := users.Get(ctx, expr.F{"email": "a@b.com"})
//
//	    coll.AssertExpectations(t)
//	    cursor.AssertExpectations(t)
//	}
//
// # Chaining Methods
//
// Cursor modifiers return the cursor itself:
//
//	cursor.On("Sort", "created", core.Descending).Return(cursor)
//	cursor.On("Skip", 2).Return(cursor)
//	cursor.On("Limit", 3).Return(cursor)
//
// # Asserting No Writes
//
//	coll.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
//	coll.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
package mocks

import "github.com/pay-theory/docorm/pkg/core"

// Helper type aliases for convenience
type (
	// Collection is an alias for MockCollection to allow shorter declarations
	Collection = MockCollection

	// Cursor is an alias for MockCursor to allow shorter declarations
	Cursor = MockCursor
)

// Store serves a fixed set of collections by name
type Store struct {
	collections map[string]core.Collection
}

// NewStore returns a store serving the given collections under their names
func NewStore(collections ...core.Collection) *Store {
	s := &Store{collections: make(map[string]core.Collection, len(collections))}
	for _, c := range collections {
		s.collections[c.Name()] = c
	}
	return s
}

// Collection returns the named collection or nil
func (s *Store) Collection(name string) core.Collection {
	return s.collections[name]
}
