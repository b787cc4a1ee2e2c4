// Package dynamo implements the store contracts over DynamoDB. Each
// collection is one table keyed by a string _id; single field indexes are
// global secondary indexes. Filters the service cannot evaluate are
// narrowed server side and finished in memory.
package dynamo

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/pay-theory/docorm/internal/logging"
	"github.com/pay-theory/docorm/internal/match"
	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/index"
	"github.com/pay-theory/docorm/pkg/validation"
)

const (
	idIndexName = "_id_"

	// codeImmutableField mirrors the document store's code for a changed _id
	codeImmutableField = 66

	// codeCannotCreateIndex mirrors the document store's index build failure
	codeCannotCreateIndex = 67
)

// API is the subset of the DynamoDB client the store uses
type API interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
}

// Options tunes table naming and provisioning
type Options struct {
	// TablePrefix is prepended to every collection name
	TablePrefix string

	// ReadCapacity and WriteCapacity select provisioned billing when both
	// are positive; otherwise tables are created on demand
	ReadCapacity  int64
	WriteCapacity int64

	// WaitTimeout bounds the wait for a new table to become active
	WaitTimeout time.Duration
}

// Store maps collections to tables
type Store struct {
	client API
	opts   Options

	mu          sync.Mutex
	collections map[string]*Collection
}

// New creates a store over client
func New(client API, opts Options) *Store {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 2 * time.Minute
	}
	return &Store{client: client, opts: opts, collections: make(map[string]*Collection)}
}

// Collection returns the handle for the named collection
func (s *Store) Collection(name string) core.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &Collection{store: s, name: name, table: s.opts.TablePrefix + name}
	s.collections[name] = c
	return c
}

// Collection is one table
type Collection struct {
	store *Store
	name  string
	table string

	mu       sync.Mutex
	catalog  map[string]core.IndexSpec // cached for reads, reset by EnsureIndex
	keyTypes map[string]types.ScalarAttributeType
}

// Name returns the collection name
func (c *Collection) Name() string { return c.name }

// NewID returns a random UUID string
func (c *Collection) NewID() any { return uuid.NewString() }

// Find starts a cursor over the records matching filter
func (c *Collection) Find(_ context.Context, filter core.Document) core.Cursor {
	return &cursor{coll: c, filter: filter}
}

// Insert stores rec, assigning an identity when it has none. The table is
// created on the first write.
func (c *Collection) Insert(ctx context.Context, rec core.Record) (any, error) {
	rec = rec.Clone()
	if rec.ID() == nil {
		rec[core.IDKey] = c.NewID()
	}
	if err := c.put(ctx, "insert", rec); err != nil {
		return nil, err
	}
	return rec.ID(), nil
}

// put writes rec unless an item with the same _id exists
func (c *Collection) put(ctx context.Context, op string, rec core.Record) error {
	if _, err := keyOf(op, rec.ID()); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return errors.NewStoreFailure(op, 0, err)
	}
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(core.IDKey))).
		Build()
	if err != nil {
		return errors.NewStoreFailure(op, 0, err)
	}
	input := &dynamodb.PutItemInput{
		TableName:                aws.String(c.table),
		Item:                     item,
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	}

	_, err = c.store.client.PutItem(ctx, input)
	if isNotFound(err) {
		if err = c.establish(ctx); err == nil {
			_, err = c.store.client.PutItem(ctx, input)
		}
	}
	if isConditionFailed(err) {
		return duplicate(op, c.name, idIndexName, rec.ID())
	}
	return failure(op, err)
}

// Update sets fields on the first record matching filter in identity
// order. With upsert and no match, a record is built from the filter's
// equalities plus set.
func (c *Collection) Update(ctx context.Context, filter core.Document, set core.Record, upsert bool) error {
	recs, err := c.find(ctx, filter)
	if err != nil {
		return err
	}

	if len(recs) == 0 {
		if !upsert {
			return nil
		}
		rec := core.Record{}
		maps.Copy(rec, index.AnalyzeEqualities(filter))
		maps.Copy(rec, set)
		if rec.ID() == nil {
			rec[core.IDKey] = c.NewID()
		}
		return c.put(ctx, "update", rec)
	}

	id := recs[0].ID()
	if v, ok := set[core.IDKey]; ok && match.Compare(v, id) != 0 {
		return errors.NewStoreFailure("update", codeImmutableField, fmt.Errorf("the field '%s' is immutable", core.IDKey))
	}

	fields := slices.Sorted(maps.Keys(set))
	fields = slices.DeleteFunc(fields, func(f string) bool { return f == core.IDKey })
	if len(fields) == 0 {
		return nil
	}

	upd := expression.Set(expression.Name(fields[0]), expression.Value(set[fields[0]]))
	for _, f := range fields[1:] {
		upd = upd.Set(expression.Name(f), expression.Value(set[f]))
	}
	built, err := expression.NewBuilder().
		WithUpdate(upd).
		WithCondition(expression.AttributeExists(expression.Name(core.IDKey))).
		Build()
	if err != nil {
		return errors.NewStoreFailure("update", 0, err)
	}
	key, err := keyOf("update", id)
	if err != nil {
		return err
	}

	_, err = c.store.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.table),
		Key:                       key,
		UpdateExpression:          built.Update(),
		ConditionExpression:       built.Condition(),
		ExpressionAttributeNames:  built.Names(),
		ExpressionAttributeValues: built.Values(),
	})
	if isConditionFailed(err) {
		// Removed since it was read
		return nil
	}
	return failure("update", err)
}

// IndexInformation describes the table. The primary key is the unique
// identity index; every global secondary index is reported as a non-unique
// single field index.
func (c *Collection) IndexInformation(ctx context.Context) (map[string]core.IndexSpec, error) {
	out, err := c.store.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.table)})
	if err != nil {
		return nil, failure("indexes", err)
	}
	specs := catalogOf(out.Table)
	keyTypes := map[string]types.ScalarAttributeType{}
	if out.Table != nil {
		for _, def := range out.Table.AttributeDefinitions {
			keyTypes[aws.ToString(def.AttributeName)] = def.AttributeType
		}
	}

	c.mu.Lock()
	c.catalog, c.keyTypes = specs, keyTypes
	c.mu.Unlock()

	return maps.Clone(specs), nil
}

// cachedCatalog returns the catalog reads plan against. A missing table
// yields nil.
func (c *Collection) cachedCatalog(ctx context.Context) (map[string]core.IndexSpec, error) {
	c.mu.Lock()
	specs := c.catalog
	c.mu.Unlock()
	if specs != nil {
		return specs, nil
	}

	specs, err := c.IndexInformation(ctx)
	if errors.IsCatalogNotEstablished(err) {
		return nil, nil
	}
	return specs, err
}

// keyTypeOf returns the declared type of a key attribute, string when the
// table description did not list it
func (c *Collection) keyTypeOf(field string) types.ScalarAttributeType {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.keyTypes[field]; ok {
		return t
	}
	return types.ScalarAttributeTypeS
}

// EnsureIndex adds a global secondary index on d.Field. DynamoDB cannot
// enforce uniqueness on anything but the key, so a unique index on any
// other field fails with ErrUnsupportedIndex. The key attribute type comes
// from d.Kind; a field of unknown kind is keyed as a string, and kinds
// DynamoDB cannot key on (bool, composite) are rejected.
func (c *Collection) EnsureIndex(ctx context.Context, d core.IndexDescriptor) error {
	field := d.Field
	if err := validation.ValidateFieldName(field); err != nil {
		return errors.NewStoreFailure("createIndex", 0, fmt.Errorf("%w: %v", errors.ErrInvalidField, err))
	}
	var attrType types.ScalarAttributeType
	if field != core.IDKey {
		if d.Unique {
			return errors.NewStoreFailure("createIndex", codeCannotCreateIndex,
				fmt.Errorf("%w: unique index on %s.%s", errors.ErrUnsupportedIndex, c.name, field))
		}
		if strings.Contains(field, ".") {
			return errors.NewStoreFailure("createIndex", codeCannotCreateIndex,
				fmt.Errorf("%w: nested field %s", errors.ErrUnsupportedIndex, field))
		}
		var ok bool
		if attrType, ok = keyType(d.Kind); !ok {
			return errors.NewStoreFailure("createIndex", codeCannotCreateIndex,
				fmt.Errorf("%w: %s field %s cannot key an index", errors.ErrUnsupportedIndex, d.Kind, field))
		}
	}

	specs, err := c.IndexInformation(ctx)
	if errors.IsCatalogNotEstablished(err) {
		if err = c.establish(ctx); err == nil {
			specs = map[string]core.IndexSpec{idIndexName: idSpec()}
		}
	}
	if err != nil {
		return err
	}
	if field == core.IDKey {
		return nil
	}
	if _, ok := specs[indexName(field)]; ok {
		return nil
	}

	gsi := &types.CreateGlobalSecondaryIndexAction{
		IndexName:             aws.String(indexName(field)),
		KeySchema:             []types.KeySchemaElement{{AttributeName: aws.String(field), KeyType: types.KeyTypeHash}},
		Projection:            &types.Projection{ProjectionType: types.ProjectionTypeAll},
		ProvisionedThroughput: c.store.throughput(),
	}
	_, err = c.store.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String(c.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(core.IDKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(field), AttributeType: attrType},
		},
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{Create: gsi}},
	})
	if err != nil {
		return failure("createIndex", err)
	}

	c.mu.Lock()
	c.catalog = nil
	c.mu.Unlock()

	logging.Info().Str("table", c.table).Str("index", indexName(field)).Msg("global secondary index requested")
	return nil
}

// keyType maps a value kind to the attribute type attributevalue marshals it
// to. Times marshal as RFC 3339 strings.
func keyType(kind core.ValueKind) (types.ScalarAttributeType, bool) {
	switch kind {
	case core.KindUnknown, core.KindString, core.KindTime:
		return types.ScalarAttributeTypeS, true
	case core.KindNumber:
		return types.ScalarAttributeTypeN, true
	case core.KindBinary:
		return types.ScalarAttributeTypeB, true
	}
	return "", false
}

// establish creates the table and waits for it to become active. A table
// created concurrently by someone else is fine.
func (c *Collection) establish(ctx context.Context) error {
	input := &dynamodb.CreateTableInput{
		TableName:            aws.String(c.table),
		AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String(core.IDKey), AttributeType: types.ScalarAttributeTypeS}},
		KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String(core.IDKey), KeyType: types.KeyTypeHash}},
		BillingMode:          types.BillingModePayPerRequest,
	}
	if t := c.store.throughput(); t != nil {
		input.BillingMode = types.BillingModeProvisioned
		input.ProvisionedThroughput = t
	}

	_, err := c.store.client.CreateTable(ctx, input)
	var inUse *types.ResourceInUseException
	if err != nil && !stderrors.As(err, &inUse) {
		return failure("createTable", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(c.store.client)
	err = waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.table)}, c.store.opts.WaitTimeout)
	if err != nil {
		return failure("createTable", err)
	}
	logging.Info().Str("table", c.table).Msg("table established")
	return nil
}

func (s *Store) throughput() *types.ProvisionedThroughput {
	if s.opts.ReadCapacity <= 0 || s.opts.WriteCapacity <= 0 {
		return nil
	}
	return &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(s.opts.ReadCapacity),
		WriteCapacityUnits: aws.Int64(s.opts.WriteCapacity),
	}
}

func indexName(field string) string { return field + "_1" }

func idSpec() core.IndexSpec {
	return core.IndexSpec{Name: idIndexName, Key: []core.IndexKey{{Field: core.IDKey, Direction: core.Ascending}}, Unique: true}
}

// catalogOf maps a table description to index specs
func catalogOf(table *types.TableDescription) map[string]core.IndexSpec {
	specs := map[string]core.IndexSpec{idIndexName: idSpec()}
	if table == nil {
		return specs
	}
	for _, gsi := range table.GlobalSecondaryIndexes {
		spec := core.IndexSpec{Name: aws.ToString(gsi.IndexName)}
		for _, k := range gsi.KeySchema {
			spec.Key = append(spec.Key, core.IndexKey{Field: aws.ToString(k.AttributeName), Direction: core.Ascending})
		}
		specs[spec.Name] = spec
	}
	return specs
}

// keyOf builds the primary key for id; table keys are strings
func keyOf(op string, id any) (map[string]types.AttributeValue, error) {
	s, ok := id.(string)
	if !ok {
		return nil, errors.NewStoreFailure(op, 0, fmt.Errorf("%w: %s must be a string, got %T", errors.ErrInvalidField, core.IDKey, id))
	}
	return map[string]types.AttributeValue{core.IDKey: &types.AttributeValueMemberS{Value: s}}, nil
}

func isNotFound(err error) bool {
	var nf *types.ResourceNotFoundException
	return stderrors.As(err, &nf)
}

func isConditionFailed(err error) bool {
	var cf *types.ConditionalCheckFailedException
	return stderrors.As(err, &cf)
}

func duplicate(op, collection, index string, value any) error {
	return errors.NewStoreFailure(op, errors.CodeDuplicateKey,
		fmt.Errorf("%w: collection %s index %s dup key %v", errors.ErrDuplicateKey, collection, index, value))
}

// failure wraps a service error as a StoreOperationFailure; a missing
// table reads as a collection without a catalog
func failure(op string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return errors.NewStoreFailure(op, errors.CodeNamespaceNotFound,
			fmt.Errorf("%w: %v", errors.ErrCatalogNotEstablished, err))
	}
	return errors.NewStoreFailure(op, 0, err)
}
