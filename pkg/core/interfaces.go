// Package core defines the core interfaces and types for docorm
package core

import (
	"context"
)

// IDKey is the identity key every stored record carries
const IDKey = "_id"

// Document is a native filter document (MongoDB dialect)
type Document = map[string]any

// Record is one stored document as read from or written to the store
type Record map[string]any

// ID returns the identity value of the record, or nil
func (r Record) ID() any {
	return r[IDKey]
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Direction is a sort direction
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Store represents an established connection to one logical database
type Store interface {
	// Collection returns a handle for the named collection
	Collection(name string) Collection
}

// Collection represents the operations the query layer needs from one collection
type Collection interface {
	// Name returns the collection name
	Name() string

	// Find starts a cursor over the records matching filter
	Find(ctx context.Context, filter Document) Cursor

	// Insert stores a new record and returns its identity
	Insert(ctx context.Context, record Record) (any, error)

	// Update applies {"$set": set} to the first record matching filter,
	// inserting it when upsert is true and nothing matches
	Update(ctx context.Context, filter Document, set Record, upsert bool) error

	// IndexInformation returns the live index catalog keyed by index name.
	// Stores return an error wrapping errors.ErrCatalogNotEstablished when
	// the collection has no catalog yet.
	IndexInformation(ctx context.Context) (map[string]IndexSpec, error)

	// EnsureIndex creates the single field index d describes, or upgrades
	// it to unique
	EnsureIndex(ctx context.Context, d IndexDescriptor) error

	// NewID generates a fresh identity value for this store
	NewID() any
}

// Cursor is a server side handle over a filtered result set. Sort, Skip and
// Limit return the same cursor so they can be chained.
type Cursor interface {
	Sort(field string, direction Direction) Cursor
	Skip(n int) Cursor
	Limit(n int) Cursor

	// Count returns the number of records the cursor would yield
	Count(ctx context.Context) (int, error)

	// Iter executes the cursor
	Iter(ctx context.Context) Iterator
}

// Iterator streams raw records out of an executed cursor
type Iterator interface {
	// Next decodes the next record into rec and reports whether one was read
	Next(ctx context.Context, rec *Record) bool

	// Err returns the first error met while iterating
	Err() error

	// Close releases the iterator and returns any pending error
	Close() error
}

// IndexKey is one component of an index key
type IndexKey struct {
	Field     string
	Direction Direction
}

// IndexSpec describes one live index in the store's catalog
type IndexSpec struct {
	Name   string
	Key    []IndexKey
	Unique bool
}

// SingleField returns the indexed field when the index covers exactly one field
func (s IndexSpec) SingleField() (string, bool) {
	if len(s.Key) != 1 {
		return "", false
	}
	return s.Key[0].Field, true
}

// ValueKind is the kind of value an indexed field holds. Stores with typed
// index keys use it to declare the key type.
type ValueKind int

const (
	KindUnknown ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindBinary
	KindTime
	KindComposite
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindBinary:
		return "binary"
	case KindTime:
		return "time"
	case KindComposite:
		return "composite"
	}
	return "unknown"
}

// IndexDescriptor is an index declared on a model. Kind is KindUnknown
// when the model does not know the field's type.
type IndexDescriptor struct {
	Field  string
	Unique bool
	Kind   ValueKind
}

// Model maps raw records of one collection into domain objects of type T
type Model[T any] interface {
	// CollectionName returns the collection the model is stored in
	CollectionName() string

	// Indexes returns the indexes declared on the model
	Indexes() []IndexDescriptor

	// FromRecord maps a raw record into a domain object
	FromRecord(rec Record) (T, error)
}
