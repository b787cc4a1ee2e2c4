package index

import (
	"sort"
	"strings"

	"github.com/pay-theory/docorm/pkg/core"
)

// KeyedRead is an equality on an indexed field that lets a store read
// through the index instead of scanning
type KeyedRead struct {
	IndexName string
	Field     string
	Value     any
}

// Selector helps select the best index for a filter
type Selector struct {
	catalog Catalog
}

// NewSelector creates a new index selector
func NewSelector(catalog Catalog) *Selector {
	return &Selector{
		catalog: catalog,
	}
}

// SelectOptimal returns the best keyed read for filter, or false when the
// filter must be answered by a scan. Only equalities that every match must
// satisfy are considered: top-level fields and members of a top-level $and.
func (s *Selector) SelectOptimal(filter core.Document) (KeyedRead, bool) {
	indexed := s.catalog.IndexedFields()

	var (
		best      KeyedRead
		bestScore int
	)
	for field, value := range AnalyzeEqualities(filter) {
		name, ok := indexed[field]
		if !ok {
			continue
		}
		score := s.scoreIndex(name)
		if score > bestScore || (score == bestScore && field < best.Field) {
			best = KeyedRead{IndexName: name, Field: field, Value: value}
			bestScore = score
		}
	}
	return best, bestScore > 0
}

// scoreIndex ranks an index; the identity index beats unique indexes which
// beat the rest
func (s *Selector) scoreIndex(name string) int {
	spec := s.catalog.specs[name]
	score := 100 // Base score for an equality on the leading key
	if f, ok := spec.SingleField(); ok && f == core.IDKey {
		score += 50
	}
	if spec.Unique {
		score += 20
	}
	return score
}

// AnalyzeEqualities collects the plain equalities every matching record must
// satisfy
func AnalyzeEqualities(filter core.Document) map[string]any {
	out := make(map[string]any)
	collect(filter, out)
	return out
}

func collect(filter core.Document, out map[string]any) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := filter[k]
		if k == "$and" {
			switch subs := v.(type) {
			case []core.Document:
				for _, sub := range subs {
					collect(sub, out)
				}
			case []any:
				for _, sub := range subs {
					if doc, ok := sub.(core.Document); ok {
						collect(doc, out)
					}
				}
			}
			continue
		}
		if strings.HasPrefix(k, "$") || !isScalar(v) {
			continue
		}
		if _, seen := out[k]; !seen {
			out[k] = v
		}
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
