package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pay-theory/docorm/pkg/core"
)

// MockCollection is a mock implementation of the core.Collection interface.
//
// Example usage:
//
//	coll := new(mocks.MockCollection)
//	coll.On("IndexInformation", mock.Anything).Return(map[string]core.IndexSpec{}, nil)
//	coll.On("EnsureIndex", mock.Anything, core.IndexDescriptor{Field: "email", Unique: true}).Return(nil)
type MockCollection struct {
	mock.Mock
}

// Name returns the collection name
func (m *MockCollection) Name() string {
	args := m.Called()
	return args.String(0)
}

// Find starts a cursor over matching records
func (m *MockCollection) Find(ctx context.Context, filter core.Document) core.Cursor {
	args := m.Called(ctx, filter)
	return args.Get(0).(core.Cursor)
}

// Insert stores a new record
func (m *MockCollection) Insert(ctx context.Context, record core.Record) (any, error) {
	args := m.Called(ctx, record)
	return args.Get(0), args.Error(1)
}

// Update sets fields on the first match, optionally upserting
func (m *MockCollection) Update(ctx context.Context, filter core.Document, set core.Record, upsert bool) error {
	args := m.Called(ctx, filter, set, upsert)
	return args.Error(0)
}

// IndexInformation returns the live index catalog
func (m *MockCollection) IndexInformation(ctx context.Context) (map[string]core.IndexSpec, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]core.IndexSpec), args.Error(1)
}

// EnsureIndex creates or upgrades a single field index
func (m *MockCollection) EnsureIndex(ctx context.Context, d core.IndexDescriptor) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

// NewID generates an identity value
func (m *MockCollection) NewID() any {
	args := m.Called()
	return args.Get(0)
}

// MockCursor is a mock implementation of the core.Cursor interface
type MockCursor struct {
	mock.Mock
}

// Sort orders the cursor
func (m *MockCursor) Sort(field string, direction core.Direction) core.Cursor {
	args := m.Called(field, direction)
	return args.Get(0).(core.Cursor)
}

// Skip skips n records
func (m *MockCursor) Skip(n int) core.Cursor {
	args := m.Called(n)
	return args.Get(0).(core.Cursor)
}

// Limit caps the cursor at n records
func (m *MockCursor) Limit(n int) core.Cursor {
	args := m.Called(n)
	return args.Get(0).(core.Cursor)
}

// Count returns the number of matching records
func (m *MockCursor) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// Iter executes the cursor
func (m *MockCursor) Iter(ctx context.Context) core.Iterator {
	args := m.Called(ctx)
	return args.Get(0).(core.Iterator)
}

// RecordIterator is a core.Iterator over a fixed slice of records
type RecordIterator struct {
	records []core.Record
	pos     int
	err     error
	closed  bool
}

// NewRecordIterator returns an iterator yielding records in order
func NewRecordIterator(records ...core.Record) *RecordIterator {
	return &RecordIterator{records: records}
}

// NewFailingIterator returns an iterator that yields nothing and reports err
func NewFailingIterator(err error) *RecordIterator {
	return &RecordIterator{err: err}
}

// Next copies the next record into rec
func (it *RecordIterator) Next(_ context.Context, rec *core.Record) bool {
	if it.closed || it.err != nil || it.pos >= len(it.records) {
		return false
	}
	*rec = it.records[it.pos].Clone()
	it.pos++
	return true
}

// Err returns the configured error
func (it *RecordIterator) Err() error {
	return it.err
}

// Close marks the iterator closed
func (it *RecordIterator) Close() error {
	it.closed = true
	return it.err
}

// Closed reports whether Close was called
func (it *RecordIterator) Closed() bool {
	return it.closed
}
