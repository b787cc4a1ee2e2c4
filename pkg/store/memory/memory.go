// Package memory is an in-process store backed by go-memdb. It keeps the
// behaviour the query layer relies on (index catalog, unique indexes,
// upserts) and is used for tests and local development.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/pay-theory/docorm/internal/logging"
	"github.com/pay-theory/docorm/internal/match"
	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/index"
	"github.com/pay-theory/docorm/pkg/validation"
)

// Store holds any number of collections
type Store struct {
	mu          sync.Mutex
	collections map[string]*Collection
}

// New creates an empty store
func New() *Store {
	return &Store{collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating the handle on first
// use. The collection itself is established by its first write or index.
func (s *Store) Collection(name string) core.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &Collection{name: name}
	s.collections[name] = c
	return c
}

// Collection is one go-memdb database. Adding an index rebuilds the
// database with the new schema.
type Collection struct {
	name string

	mu    sync.RWMutex
	db    *memdb.MemDB
	specs map[string]core.IndexSpec
}

// Name returns the collection name
func (c *Collection) Name() string { return c.name }

// NewID returns a random UUID string
func (c *Collection) NewID() any { return uuid.NewString() }

// snapshot returns the current database and catalog, or nil when the
// collection is not established
func (c *Collection) snapshot() (*memdb.MemDB, map[string]core.IndexSpec) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db, c.specs
}

// establish creates the database on first use. Callers hold c.mu.
func (c *Collection) establish() error {
	if c.db != nil {
		return nil
	}
	specs := map[string]core.IndexSpec{
		idIndexName: {Name: idIndexName, Key: []core.IndexKey{{Field: core.IDKey, Direction: core.Ascending}}, Unique: true},
	}
	db, err := memdb.NewMemDB(buildSchema(specs))
	if err != nil {
		return err
	}
	c.db, c.specs = db, specs
	logging.Debug().Str("collection", c.name).Msg("collection established")
	return nil
}

// Find starts a cursor over the records matching filter
func (c *Collection) Find(_ context.Context, filter core.Document) core.Cursor {
	return &cursor{coll: c, filter: filter}
}

// Insert stores a copy of rec, assigning an identity when it has none
func (c *Collection) Insert(_ context.Context, rec core.Record) (any, error) {
	rec = rec.Clone()
	if rec.ID() == nil {
		rec[core.IDKey] = c.NewID()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.establish(); err != nil {
		return nil, errors.NewStoreFailure("insert", 0, err)
	}

	txn := c.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableRecords, indexID, rec.ID())
	if err != nil {
		return nil, errors.NewStoreFailure("insert", 0, err)
	}
	if existing != nil {
		return nil, duplicate("insert", c.name, idIndexName, rec.ID())
	}
	if err := c.checkUnique(txn, rec); err != nil {
		return nil, err
	}
	if err := txn.Insert(tableRecords, rec); err != nil {
		return nil, errors.NewStoreFailure("insert", 0, err)
	}
	txn.Commit()
	return rec.ID(), nil
}

// Update sets fields on the first record matching filter in identity
// order. With upsert and no match, a record is built from the filter's
// equalities plus set.
func (c *Collection) Update(_ context.Context, filter core.Document, set core.Record, upsert bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.establish(); err != nil {
		return errors.NewStoreFailure("update", 0, err)
	}

	txn := c.db.Txn(true)
	defer txn.Abort()

	recs, err := scan(txn, c.specs, filter)
	if err != nil {
		return errors.NewStoreFailure("update", 0, err)
	}

	var rec core.Record
	switch {
	case len(recs) > 0:
		rec = recs[0].Clone()
		if id, ok := set[core.IDKey]; ok && match.Compare(id, rec.ID()) != 0 {
			return errors.NewStoreFailure("update", 66, fmt.Errorf("the field '%s' is immutable", core.IDKey))
		}
	case upsert:
		rec = core.Record{}
		for k, v := range index.AnalyzeEqualities(filter) {
			rec[k] = v
		}
	default:
		return nil
	}

	for k, v := range set {
		rec[k] = v
	}
	if rec.ID() == nil {
		rec[core.IDKey] = c.NewID()
	}

	if err := c.checkUnique(txn, rec); err != nil {
		return err
	}
	if err := txn.Insert(tableRecords, rec); err != nil {
		return errors.NewStoreFailure("update", 0, err)
	}
	txn.Commit()
	return nil
}

// IndexInformation returns the catalog, or ErrCatalogNotEstablished before
// the collection's first write
func (c *Collection) IndexInformation(_ context.Context) (map[string]core.IndexSpec, error) {
	_, specs := c.snapshot()
	if specs == nil {
		return nil, errors.NewStoreFailure("indexes", errors.CodeNamespaceNotFound,
			fmt.Errorf("ns not found %s: %w", c.name, errors.ErrCatalogNotEstablished))
	}
	return maps.Clone(specs), nil
}

// EnsureIndex adds an index on field or makes the existing one unique. The
// database is rebuilt with the new schema; when the data already violates
// a new unique index nothing changes and a duplicate key failure is
// returned.
func (c *Collection) EnsureIndex(_ context.Context, d core.IndexDescriptor) error {
	field, unique := d.Field, d.Unique
	if err := validation.ValidateFieldName(field); err != nil {
		return errors.NewStoreFailure("createIndex", 0, fmt.Errorf("%w: %v", errors.ErrInvalidField, err))
	}
	if field == core.IDKey {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.establish(); err != nil {
		return errors.NewStoreFailure("createIndex", 0, err)
	}

	name := indexName(field)
	if live, ok := c.specs[name]; ok && (live.Unique || !unique) {
		return nil
	}

	specs := maps.Clone(c.specs)
	specs[name] = core.IndexSpec{Name: name, Key: []core.IndexKey{{Field: field, Direction: core.Ascending}}, Unique: unique}

	db, err := memdb.NewMemDB(buildSchema(specs))
	if err != nil {
		return errors.NewStoreFailure("createIndex", 0, err)
	}

	read := c.db.Txn(false)
	write := db.Txn(true)
	defer write.Abort()

	it, err := read.Get(tableRecords, indexID)
	if err != nil {
		return errors.NewStoreFailure("createIndex", 0, err)
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rec := obj.(core.Record)
		if unique {
			if v, ok := match.Lookup(rec, field); ok {
				dup, err := write.First(tableRecords, name, v)
				if err != nil {
					return errors.NewStoreFailure("createIndex", 0, err)
				}
				if dup != nil {
					return duplicate("createIndex", c.name, name, v)
				}
			}
		}
		if err := write.Insert(tableRecords, rec); err != nil {
			return errors.NewStoreFailure("createIndex", 0, err)
		}
	}
	write.Commit()

	c.db, c.specs = db, specs
	return nil
}

// checkUnique rejects rec when another record holds the same value in a
// unique index. go-memdb replaces conflicting entries instead of failing.
func (c *Collection) checkUnique(txn *memdb.Txn, rec core.Record) error {
	for _, name := range uniqueNames(c.specs) {
		field, _ := c.specs[name].SingleField()
		v, ok := match.Lookup(rec, field)
		if !ok {
			continue
		}
		values := []any{v}
		if elems, ok := match.AsSlice(v); ok {
			values = append(values, elems...)
		}
		for _, key := range values {
			other, err := txn.First(tableRecords, name, key)
			if err != nil {
				return errors.NewStoreFailure("write", 0, err)
			}
			if other != nil && match.Compare(other.(core.Record).ID(), rec.ID()) != 0 {
				return duplicate("write", c.name, name, key)
			}
		}
	}
	return nil
}

func duplicate(op, collection, index string, value any) error {
	return errors.NewStoreFailure(op, errors.CodeDuplicateKey,
		fmt.Errorf("%w: collection %s index %s dup key %v", errors.ErrDuplicateKey, collection, index, value))
}
