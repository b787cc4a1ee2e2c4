// Package index reads a collection's live index catalog, guards
// find-or-create lookups against non-unique keys and reconciles declared
// indexes with the store.
package index

import (
	"context"
	"sort"

	"github.com/pay-theory/docorm/internal/logging"
	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
)

// Catalog is a snapshot of a collection's live indexes
type Catalog struct {
	specs map[string]core.IndexSpec
}

// NewCatalog wraps index specs keyed by index name
func NewCatalog(specs map[string]core.IndexSpec) Catalog {
	if specs == nil {
		specs = map[string]core.IndexSpec{}
	}
	return Catalog{specs: specs}
}

// ReadCatalog reads the live catalog of coll. A collection whose catalog is
// not established yet reads as empty; every other store error is returned.
func ReadCatalog(ctx context.Context, coll core.Collection) (Catalog, error) {
	specs, err := coll.IndexInformation(ctx)
	if err != nil {
		if errors.IsCatalogNotEstablished(err) {
			logging.Debug().Str("collection", coll.Name()).Msg("index catalog not established, treating as empty")
			return NewCatalog(nil), nil
		}
		return Catalog{}, err
	}
	return NewCatalog(specs), nil
}

// Len returns the number of indexes in the catalog
func (c Catalog) Len() int {
	return len(c.specs)
}

// Names returns the index names in sorted order
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Field returns the single-field index on field. When several exist (for
// example ascending and descending), a unique one is preferred.
func (c Catalog) Field(field string) (core.IndexSpec, bool) {
	var (
		found core.IndexSpec
		ok    bool
	)
	for _, name := range c.Names() {
		spec := c.specs[name]
		f, single := spec.SingleField()
		if !single || f != field {
			continue
		}
		if !ok || (spec.Unique && !found.Unique) {
			found, ok = spec, true
		}
	}
	return found, ok
}

// UniqueFields returns the fields backed by a single-field unique index.
// Compound unique indexes do not make any one of their fields unique.
func (c Catalog) UniqueFields() map[string]struct{} {
	out := make(map[string]struct{})
	for _, spec := range c.specs {
		if !spec.Unique {
			continue
		}
		if f, ok := spec.SingleField(); ok {
			out[f] = struct{}{}
		}
	}
	return out
}

// IndexedFields returns every field that leads an index, mapped to the
// index name. Used by stores to plan keyed reads.
func (c Catalog) IndexedFields() map[string]string {
	out := make(map[string]string)
	for _, name := range c.Names() {
		spec := c.specs[name]
		if len(spec.Key) == 0 {
			continue
		}
		if _, seen := out[spec.Key[0].Field]; !seen {
			out[spec.Key[0].Field] = name
		}
	}
	return out
}
