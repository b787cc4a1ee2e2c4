// Package model maps stored records to domain objects and carries the index
// descriptors declared on them
package model

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/naming"
)

// Registry caches parsed struct metadata
type Registry struct {
	mu          sync.RWMutex
	models      map[reflect.Type]*Metadata
	collections map[string]*Metadata
}

// NewRegistry creates a new model registry
func NewRegistry() *Registry {
	return &Registry{
		models:      make(map[reflect.Type]*Metadata),
		collections: make(map[string]*Metadata),
	}
}

var defaultRegistry = NewRegistry()

// Register parses and caches the metadata of a struct model. Registering
// the same type twice returns the cached metadata.
func (r *Registry) Register(model any) (*Metadata, error) {
	modelType := reflect.TypeOf(model)
	if modelType == nil {
		return nil, fmt.Errorf("%w: nil model", errors.ErrInvalidModel)
	}
	if modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}
	if modelType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: model must be a struct", errors.ErrInvalidModel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if metadata, exists := r.models[modelType]; exists {
		return metadata, nil
	}

	metadata, err := parseMetadata(modelType)
	if err != nil {
		return nil, err
	}
	if other, exists := r.collections[metadata.CollectionName]; exists {
		return nil, fmt.Errorf("%w: collection %s already mapped by %s", errors.ErrInvalidModel, metadata.CollectionName, other.Type.Name())
	}

	r.models[modelType] = metadata
	r.collections[metadata.CollectionName] = metadata
	return metadata, nil
}

// GetMetadataByCollection retrieves metadata by collection name
func (r *Registry) GetMetadataByCollection(name string) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata, exists := r.collections[name]
	if !exists {
		return nil, fmt.Errorf("%w: no model for collection %s", errors.ErrInvalidModel, name)
	}
	return metadata, nil
}

// Metadata holds the mapping of one struct type
type Metadata struct {
	Type           reflect.Type
	CollectionName string
	Fields         map[string]*FieldMetadata
	FieldsByDBName map[string]*FieldMetadata
	IDField        *FieldMetadata
	Indexes        []core.IndexDescriptor
}

// FieldMetadata holds metadata for a single field
type FieldMetadata struct {
	Name      string       // Go field name
	Type      reflect.Type // Go type
	DBName    string       // stored field name
	Index     int          // Field index in struct
	Indexed   bool         // docorm:"index"
	Unique    bool         // docorm:"unique"
	OmitEmpty bool         // bson omitempty
}

// collectionNamer lets a model choose its collection name
type collectionNamer interface {
	CollectionName() string
}

// parseMetadata parses model metadata from struct tags
func parseMetadata(modelType reflect.Type) (*Metadata, error) {
	metadata := &Metadata{
		Type:           modelType,
		CollectionName: getCollectionName(modelType),
		Fields:         make(map[string]*FieldMetadata),
		FieldsByDBName: make(map[string]*FieldMetadata),
	}

	for i := 0; i < modelType.NumField(); i++ {
		field := modelType.Field(i)

		// Skip unexported fields
		if !field.IsExported() {
			continue
		}

		fieldMeta, err := parseFieldMetadata(field, i)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if fieldMeta == nil {
			continue
		}
		if _, dup := metadata.FieldsByDBName[fieldMeta.DBName]; dup {
			return nil, fmt.Errorf("field %s: %w: duplicate stored name %q", field.Name, errors.ErrInvalidTag, fieldMeta.DBName)
		}

		metadata.Fields[field.Name] = fieldMeta
		metadata.FieldsByDBName[fieldMeta.DBName] = fieldMeta

		if fieldMeta.DBName == core.IDKey {
			metadata.IDField = fieldMeta
			continue
		}
		if fieldMeta.Indexed || fieldMeta.Unique {
			metadata.Indexes = append(metadata.Indexes, core.IndexDescriptor{
				Field:  fieldMeta.DBName,
				Unique: fieldMeta.Unique,
				Kind:   kindOf(fieldMeta.Type),
			})
		}
	}

	return metadata, nil
}

// parseFieldMetadata reads the bson name and the docorm options of a field.
// A nil result means the field is not stored.
func parseFieldMetadata(field reflect.StructField, index int) (*FieldMetadata, error) {
	name, omitEmpty, skip := naming.ResolveFieldName(field)
	if skip {
		return nil, nil
	}
	meta := &FieldMetadata{
		Name:      field.Name,
		Type:      field.Type,
		DBName:    name,
		Index:     index,
		OmitEmpty: omitEmpty,
	}

	tag := field.Tag.Get("docorm")
	if tag == "" {
		return meta, nil
	}

	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "index":
			meta.Indexed = true
		case "unique":
			meta.Unique = true
		default:
			return nil, fmt.Errorf("%w: unknown tag '%s'", errors.ErrInvalidTag, part)
		}
	}

	if meta.DBName == core.IDKey && (meta.Indexed || meta.Unique) {
		return nil, fmt.Errorf("%w: %s is always uniquely indexed", errors.ErrInvalidTag, core.IDKey)
	}
	return meta, nil
}

var timeType = reflect.TypeOf(time.Time{})

// kindOf maps a Go field type to the kind of value the bson codec stores
func kindOf(t reflect.Type) core.ValueKind {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return core.KindTime
	}
	switch t.Kind() {
	case reflect.String:
		return core.KindString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return core.KindNumber
	case reflect.Bool:
		return core.KindBool
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return core.KindBinary
		}
		return core.KindComposite
	case reflect.Map, reflect.Struct:
		return core.KindComposite
	}
	return core.KindUnknown
}

// getCollectionName uses a CollectionName method when the type has one,
// otherwise the pluralised type name
func getCollectionName(modelType reflect.Type) string {
	if namer, ok := reflect.New(modelType).Interface().(collectionNamer); ok {
		return namer.CollectionName()
	}
	if namer, ok := reflect.Zero(modelType).Interface().(collectionNamer); ok {
		return namer.CollectionName()
	}

	return naming.CollectionName(modelType.Name())
}
