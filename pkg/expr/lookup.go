package expr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pay-theory/docorm/pkg/errors"
)

// Lookup selects how a leaf's value is matched against its field
type Lookup struct {
	// Name is the operator name used with L, e.g. "gt"
	Name string
	// Suffix is the field-name suffix selecting this lookup, e.g. "__gt"
	Suffix string
	// Operator is the native operator, empty for plain equality
	Operator string
}

// Lookup names accepted by L
const (
	LookupExact      = ""
	LookupGt         = "gt"
	LookupGte        = "gte"
	LookupLt         = "lt"
	LookupLte        = "lte"
	LookupNe         = "ne"
	LookupTextSearch = "text_search"
)

// Native operators emitted by the compiler
const (
	OpAnd     = "$and"
	OpOr      = "$or"
	OpGt      = "$gt"
	OpGte     = "$gte"
	OpLt      = "$lt"
	OpLte     = "$lte"
	OpNe      = "$ne"
	OpRegex   = "$regex"
	OpOptions = "$options"
)

// TextSearchOptions are the regex options of a text search: case
// insensitive, '.' matching newlines.
const TextSearchOptions = "si"

// textSearchWildcard is inserted between every searched character
const textSearchWildcard = ".*"

var (
	exact      = Lookup{Name: LookupExact}
	textSearch = Lookup{Name: LookupTextSearch, Suffix: "_text__search", Operator: OpRegex}

	// comparisons are checked in this order; no suffix is a suffix of another
	comparisons = []Lookup{
		{Name: LookupGt, Suffix: "__gt", Operator: OpGt},
		{Name: LookupGte, Suffix: "__gte", Operator: OpGte},
		{Name: LookupLt, Suffix: "__lt", Operator: OpLt},
		{Name: LookupLte, Suffix: "__lte", Operator: OpLte},
		{Name: LookupNe, Suffix: "__ne", Operator: OpNe},
	}
)

// IsExact reports whether the lookup is plain equality
func (l Lookup) IsExact() bool {
	return l.Operator == ""
}

// IsTextSearch reports whether the lookup is a text containment search
func (l Lookup) IsTextSearch() bool {
	return l.Name == LookupTextSearch
}

// Translate strips a recognised lookup suffix from key and returns the bare
// field with its lookup. Keys without a recognised suffix are matched by
// equality.
func Translate(key string) (string, Lookup) {
	if field, ok := strings.CutSuffix(key, textSearch.Suffix); ok && field != "" {
		return field, textSearch
	}
	for _, l := range comparisons {
		if field, ok := strings.CutSuffix(key, l.Suffix); ok && field != "" {
			return field, l
		}
	}
	return key, exact
}

// LookupByName returns the lookup for an operator name as used by L
func LookupByName(name string) (Lookup, error) {
	switch name {
	case LookupExact:
		return exact, nil
	case LookupTextSearch:
		return textSearch, nil
	}
	for _, l := range comparisons {
		if l.Name == name {
			return l, nil
		}
	}
	return Lookup{}, fmt.Errorf("%w: %q", errors.ErrInvalidOperator, name)
}

// Condition builds the native condition matching value under the lookup.
// field is only used for error reporting.
func (l Lookup) Condition(field string, value any) (any, error) {
	switch {
	case l.IsTextSearch():
		s, ok := value.(string)
		if !ok {
			return nil, &errors.LookupValueError{Field: field, Lookup: "text search", Value: value}
		}
		return map[string]any{
			OpRegex:   TextSearchPattern(s),
			OpOptions: TextSearchOptions,
		}, nil
	case l.IsExact():
		return value, nil
	default:
		return map[string]any{l.Operator: value}, nil
	}
}

// TextSearchPattern joins every character of s with a wildcard, so the
// pattern matches any value containing those characters in order with
// arbitrary gaps. Characters are quoted; "77" yields "7.*7".
func TextSearchPattern(s string) string {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		parts = append(parts, regexp.QuoteMeta(string(r)))
	}
	return strings.Join(parts, textSearchWildcard)
}
