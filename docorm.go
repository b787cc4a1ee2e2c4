// Package docorm provides Django-style querying over document stores in Go
package docorm

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pay-theory/docorm/internal/logging"
	"github.com/pay-theory/docorm/pkg/config"
	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/query"
	"github.com/pay-theory/docorm/pkg/session"
	"github.com/pay-theory/docorm/pkg/store/dynamo"
	"github.com/pay-theory/docorm/pkg/store/memory"
	"github.com/pay-theory/docorm/pkg/store/mongo"
)

// DB is the process-wide handle to one configured store
type DB struct {
	cfg *config.Config

	mu     sync.RWMutex
	store  core.Store
	closer func()
}

// New validates cfg and returns a DB that is not connected yet
func New(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DB{cfg: cfg}, nil
}

// Open is New followed by Setup
func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	db, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Setup(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// WithStore returns a DB that is already set up over store
func WithStore(store core.Store) *DB {
	return &DB{cfg: config.Default(), store: store}
}

// Setup connects the configured backend. Calling it again is a no-op.
func (db *DB) Setup(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store != nil {
		return nil
	}

	logging.SetGlobalLogger(logging.New(os.Stderr, db.cfg.LogLevel))

	switch db.cfg.Backend {
	case config.BackendMongo:
		store, err := mongo.Dial(ctx, mongo.Config{
			URI:      db.cfg.MongoURI,
			Database: db.cfg.ConnIndex,
			Timeout:  db.cfg.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		db.store, db.closer = store, store.Close

	case config.BackendDynamoDB:
		c := db.cfg.DynamoDB
		sess, err := session.NewSession(ctx, &session.Config{
			Region:          c.Region,
			Endpoint:        c.Endpoint,
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			SessionToken:    c.SessionToken,
			RoleARN:         c.RoleARN,
			ExternalID:      c.ExternalID,
			SessionDuration: c.SessionDuration,
			MaxRetries:      c.MaxRetries,
		})
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		client, err := sess.Client()
		if err != nil {
			return err
		}
		db.store = dynamo.New(client, dynamo.Options{
			TablePrefix:   c.TablePrefix,
			ReadCapacity:  c.ReadCapacity,
			WriteCapacity: c.WriteCapacity,
		})

	case config.BackendMemory:
		db.store = memory.New()

	default:
		return &errors.ConfigurationError{Key: "backend", Detail: fmt.Sprintf("unknown backend %q", db.cfg.Backend)}
	}

	logging.Info().Str("backend", db.cfg.Backend).Msg("docorm store ready")
	return nil
}

// Store returns the connected store, or a ConfigurationError before Setup
func (db *DB) Store() (core.Store, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.store == nil {
		return nil, &errors.ConfigurationError{Key: "store", Detail: "Setup has not been called"}
	}
	return db.store, nil
}

// Close releases the store connection. The DB can be set up again.
func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closer != nil {
		db.closer()
	}
	db.store, db.closer = nil, nil
}

// Model returns a QuerySet over the collection of m
func Model[T any](db *DB, m core.Model[T]) (*query.QuerySet[T], error) {
	store, err := db.Store()
	if err != nil {
		return nil, err
	}
	return query.New(store, m)
}
