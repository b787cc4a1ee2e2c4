package model

import (
	"fmt"

	"gopkg.in/mgo.v2/bson"

	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
)

// RecordModel is a model whose domain objects are the stored records
type RecordModel struct {
	collection string
	indexes    []core.IndexDescriptor
}

// Records returns a model over collection that yields raw records
func Records(collection string, indexes ...core.IndexDescriptor) *RecordModel {
	return &RecordModel{collection: collection, indexes: indexes}
}

// CollectionName returns the collection name
func (m *RecordModel) CollectionName() string { return m.collection }

// Indexes returns the declared indexes
func (m *RecordModel) Indexes() []core.IndexDescriptor { return m.indexes }

// FromRecord returns rec unchanged
func (m *RecordModel) FromRecord(rec core.Record) (core.Record, error) {
	return rec, nil
}

// StructModel maps records to values of struct type T through the bson
// codec, so stored names follow `bson` tags
type StructModel[T any] struct {
	metadata *Metadata
	indexes  []core.IndexDescriptor
}

// Struct returns the model of struct type T. Indexes come from `docorm`
// tags on the fields, followed by any extra descriptors.
func Struct[T any](extra ...core.IndexDescriptor) (*StructModel[T], error) {
	var zero T
	metadata, err := defaultRegistry.Register(zero)
	if err != nil {
		return nil, err
	}

	indexes := make([]core.IndexDescriptor, 0, len(metadata.Indexes)+len(extra))
	indexes = append(indexes, metadata.Indexes...)
	indexes = append(indexes, extra...)

	return &StructModel[T]{metadata: metadata, indexes: indexes}, nil
}

// Metadata returns the parsed struct metadata
func (m *StructModel[T]) Metadata() *Metadata { return m.metadata }

// CollectionName returns the collection name
func (m *StructModel[T]) CollectionName() string { return m.metadata.CollectionName }

// Indexes returns the declared indexes
func (m *StructModel[T]) Indexes() []core.IndexDescriptor { return m.indexes }

// FromRecord decodes rec into a T
func (m *StructModel[T]) FromRecord(rec core.Record) (T, error) {
	var obj T
	raw, err := bson.Marshal(map[string]any(rec))
	if err != nil {
		return obj, fmt.Errorf("%w: encode record: %v", errors.ErrInvalidModel, err)
	}
	if err := bson.Unmarshal(raw, &obj); err != nil {
		return obj, fmt.Errorf("%w: decode %s: %v", errors.ErrInvalidModel, m.metadata.Type.Name(), err)
	}
	return obj, nil
}

// ToRecord encodes obj as a record ready to store
func (m *StructModel[T]) ToRecord(obj T) (core.Record, error) {
	raw, err := bson.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", errors.ErrInvalidModel, m.metadata.Type.Name(), err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode record: %v", errors.ErrInvalidModel, err)
	}
	return core.Record(doc), nil
}
