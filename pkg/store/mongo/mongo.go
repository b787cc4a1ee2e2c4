// Package mongo implements the store contracts over MongoDB with mgo
package mongo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/pay-theory/docorm/internal/logging"
	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/index"
)

// masterListLock guards masterList
var masterListLock sync.Mutex

// masterList holds one root session per URI and database. Dialing a key
// that is already present reuses its session.
var masterList = make(map[string]*mgo.Session)

// Config provides configuration for connecting to a database
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Store is an established connection to one database
type Store struct {
	session  *mgo.Session
	database string
}

// Dial connects to cfg.URI, or reuses the session already established for
// the same URI and database
func Dial(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.MissingKey("mongo_uri")
	}
	if cfg.Database == "" {
		return nil, errors.MissingKey("conn_index")
	}

	key := cfg.URI + "/" + cfg.Database

	masterListLock.Lock()
	defer masterListLock.Unlock()

	ms, ok := masterList[key]
	if !ok {
		timeout := cfg.Timeout
		if deadline, has := ctx.Deadline(); has {
			timeout = time.Until(deadline)
		}
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		var err error
		ms, err = mgo.DialWithTimeout(cfg.URI, timeout)
		if err != nil {
			return nil, errors.NewStoreFailure("dial", codeOf(err), err)
		}
		ms.SetMode(mgo.Monotonic, true)
		masterList[key] = ms

		logging.Info().Str("database", cfg.Database).Msg("mongo session established")
	}

	return &Store{session: ms.Copy(), database: cfg.Database}, nil
}

// Close releases the store's session. The root session stays in the
// master list for later Dial calls.
func (s *Store) Close() {
	s.session.Close()
}

// Collection returns a handle for the named collection
func (s *Store) Collection(name string) core.Collection {
	return &Collection{store: s, name: name}
}

// Collection adapts one mgo collection. Each call runs on its own copy of
// the store session.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection name
func (c *Collection) Name() string { return c.name }

// NewID returns a fresh ObjectId
func (c *Collection) NewID() any { return bson.NewObjectId() }

// execute runs f against the collection on a session copy bounded by the
// context deadline
func (c *Collection) execute(ctx context.Context, f func(*mgo.Collection) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ses := c.store.session.Copy()
	defer ses.Close()
	if deadline, ok := ctx.Deadline(); ok {
		ses.SetSocketTimeout(time.Until(deadline))
	}
	return f(ses.DB(c.store.database).C(c.name))
}

// Find starts a cursor over the records matching filter
func (c *Collection) Find(_ context.Context, filter core.Document) core.Cursor {
	return &cursor{coll: c, filter: filter}
}

// Insert stores rec, assigning an ObjectId when it has no identity
func (c *Collection) Insert(ctx context.Context, rec core.Record) (any, error) {
	doc := bson.M(rec.Clone())
	if doc[core.IDKey] == nil {
		doc[core.IDKey] = c.NewID()
	}
	err := c.execute(ctx, func(col *mgo.Collection) error {
		return col.Insert(doc)
	})
	if err != nil {
		return nil, failure("insert", err)
	}
	return doc[core.IDKey], nil
}

// Update applies {"$set": set} to the first match. Matching nothing without
// upsert is not an error.
func (c *Collection) Update(ctx context.Context, filter core.Document, set core.Record, upsert bool) error {
	change := bson.M{"$set": bson.M(set)}
	if len(set) == 0 {
		if !upsert {
			return nil
		}
		// An empty $set is rejected by the server
		change = bson.M{"$setOnInsert": bson.M(index.AnalyzeEqualities(filter))}
	}

	err := c.execute(ctx, func(col *mgo.Collection) error {
		if upsert {
			_, err := col.Upsert(bson.M(filter), change)
			return err
		}
		return col.Update(bson.M(filter), change)
	})
	if err == mgo.ErrNotFound {
		return nil
	}
	return failure("update", err)
}

// IndexInformation returns the live catalog. A collection that does not
// exist yet reports ErrCatalogNotEstablished.
func (c *Collection) IndexInformation(ctx context.Context) (map[string]core.IndexSpec, error) {
	var indexes []mgo.Index
	err := c.execute(ctx, func(col *mgo.Collection) error {
		var err error
		indexes, err = col.Indexes()
		return err
	})
	if err != nil {
		return nil, failure("indexes", err)
	}

	out := make(map[string]core.IndexSpec, len(indexes))
	for _, idx := range indexes {
		spec := convertIndex(idx)
		out[spec.Name] = spec
	}
	return out, nil
}

// EnsureIndex creates an ascending index on field. The server cannot make
// an existing index unique, so a non-unique index on the same key is
// dropped and rebuilt.
func (c *Collection) EnsureIndex(ctx context.Context, d core.IndexDescriptor) error {
	field, unique := d.Field, d.Unique
	err := c.execute(ctx, func(col *mgo.Collection) error {
		if unique {
			indexes, err := col.Indexes()
			if err != nil && codeOf(err) != errors.CodeNamespaceNotFound {
				return err
			}
			for _, idx := range indexes {
				if len(idx.Key) == 1 && idx.Key[0] == field && !idx.Unique {
					if err := col.DropIndexName(idx.Name); err != nil {
						return err
					}
				}
			}
		}
		return col.EnsureIndex(mgo.Index{Key: []string{field}, Unique: unique})
	})
	return failure("createIndex", err)
}

// convertIndex maps an mgo index to an IndexSpec; "-field" keys are
// descending
func convertIndex(idx mgo.Index) core.IndexSpec {
	spec := core.IndexSpec{Name: idx.Name, Unique: idx.Unique}
	for _, k := range idx.Key {
		key := core.IndexKey{Field: k, Direction: core.Ascending}
		if len(k) > 1 && k[0] == '-' {
			key = core.IndexKey{Field: k[1:], Direction: core.Descending}
		}
		spec.Key = append(spec.Key, key)
	}
	// The identity index is unique whether or not the server says so
	if f, ok := spec.SingleField(); ok && f == core.IDKey {
		spec.Unique = true
	}
	return spec
}

// sortKey renders a sort in mgo's "-field" form
func sortKey(field string, dir core.Direction) string {
	if dir == core.Descending {
		return "-" + field
	}
	return field
}

// codeOf extracts the server error code from an mgo error
func codeOf(err error) int {
	switch e := err.(type) {
	case *mgo.QueryError:
		return e.Code
	case *mgo.LastError:
		return e.Code
	case *mgo.BulkError:
		if cases := e.Cases(); len(cases) > 0 {
			return codeOf(cases[0].Err)
		}
	}
	if mgo.IsDup(err) {
		return errors.CodeDuplicateKey
	}
	return 0
}

// failure wraps an mgo error as a StoreOperationFailure, tagging the
// conditions the query layer acts on
func failure(op string, err error) error {
	if err == nil {
		return nil
	}
	code := codeOf(err)
	switch {
	case code == errors.CodeNamespaceNotFound:
		err = fmt.Errorf("%w: %v", errors.ErrCatalogNotEstablished, err)
	case code == errors.CodeDuplicateKey || mgo.IsDup(err):
		code = errors.CodeDuplicateKey
		err = fmt.Errorf("%w: %v", errors.ErrDuplicateKey, err)
	}
	return errors.NewStoreFailure(op, code, err)
}
