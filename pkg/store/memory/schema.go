package memory

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/pay-theory/docorm/internal/match"
	"github.com/pay-theory/docorm/pkg/core"
)

const (
	tableRecords = "records"
	indexID      = "id"
	idIndexName  = "_id_"
)

// indexName follows the MongoDB default naming so catalogs read the same
// across stores
func indexName(field string) string {
	return field + "_1"
}

// idIndexer indexes records on their identity
type idIndexer struct{}

func (idIndexer) FromObject(raw any) (bool, []byte, error) {
	rec, ok := raw.(core.Record)
	if !ok {
		return false, nil, fmt.Errorf("unexpected object type %T", raw)
	}
	id := rec.ID()
	if id == nil {
		return false, nil, nil
	}
	return true, encodeKey(id), nil
}

func (idIndexer) FromArgs(args ...any) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	return encodeKey(args[0]), nil
}

// fieldIndexer indexes records on the value at a dotted field path. An
// array value is indexed as a whole and once per element, matching the
// equality semantics of the filter language. Values are normalised first
// so 1 and 1.0 share a key.
type fieldIndexer struct {
	Field string
}

func (f *fieldIndexer) FromObject(raw any) (bool, [][]byte, error) {
	rec, ok := raw.(core.Record)
	if !ok {
		return false, nil, fmt.Errorf("unexpected object type %T", raw)
	}
	v, ok := match.Lookup(rec, f.Field)
	if !ok {
		return false, nil, nil
	}
	keys := [][]byte{encodeKey(v)}
	if elems, ok := match.AsSlice(v); ok {
		for _, e := range elems {
			keys = append(keys, encodeKey(e))
		}
	}
	return true, keys, nil
}

func (f *fieldIndexer) FromArgs(args ...any) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	return encodeKey(args[0]), nil
}

func encodeKey(v any) []byte {
	n := match.Normalize(v)
	// Null terminated so one key is never a prefix of another
	return []byte(fmt.Sprintf("%T:%v\x00", n, n))
}

// buildSchema returns the memdb schema of one collection with an index per
// ensured field
func buildSchema(specs map[string]core.IndexSpec) *memdb.DBSchema {
	indexes := map[string]*memdb.IndexSchema{
		indexID: {
			Name:    indexID,
			Unique:  true,
			Indexer: idIndexer{},
		},
	}
	for name, spec := range specs {
		field, ok := spec.SingleField()
		if !ok || field == core.IDKey {
			continue
		}
		indexes[name] = &memdb.IndexSchema{
			Name:         name,
			AllowMissing: true,
			Unique:       spec.Unique,
			Indexer:      &fieldIndexer{Field: field},
		}
	}

	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableRecords: {
				Name:    tableRecords,
				Indexes: indexes,
			},
		},
	}
}

// uniqueNames returns the unique secondary indexes in name order
func uniqueNames(specs map[string]core.IndexSpec) []string {
	var names []string
	for name, spec := range specs {
		if spec.Unique && name != idIndexName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
