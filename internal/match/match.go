// Package match evaluates native filter documents against records held in
// memory. Stores that cannot run every operator server side use it to give
// the same results as the document store.
package match

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
)

var regexCache sync.Map // pattern+options -> *regexp.Regexp

// Match reports whether rec satisfies filter. An empty filter matches every
// record.
func Match(filter core.Document, rec core.Record) (bool, error) {
	for key, cond := range filter {
		ok, err := matchKey(key, cond, rec)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(key string, cond any, rec core.Record) (bool, error) {
	switch key {
	case "$and":
		subs, err := subDocuments(key, cond)
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := Match(sub, rec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "$or":
		subs, err := subDocuments(key, cond)
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := Match(sub, rec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("%w: unsupported top-level operator %s", errors.ErrInvalidOperator, key)
	}

	value, present := Lookup(rec, key)
	ops, isOps := operatorDocument(cond)
	if !isOps {
		return equalsOrContains(value, present, cond), nil
	}
	return matchOperators(ops, value, present)
}

func matchOperators(ops map[string]any, value any, present bool) (bool, error) {
	for op, arg := range ops {
		var ok bool
		switch op {
		case "$gt", "$gte", "$lt", "$lte":
			ok = present && compareOp(op, value, arg)
		case "$ne":
			ok = !equalsOrContains(value, present, arg)
		case "$regex":
			re, err := compileRegex(arg, ops["$options"])
			if err != nil {
				return false, err
			}
			s, isString := value.(string)
			ok = present && isString && re.MatchString(s)
		case "$options":
			continue
		default:
			return false, fmt.Errorf("%w: %s", errors.ErrInvalidOperator, op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func compareOp(op string, value, arg any) bool {
	if class(value) != class(arg) {
		return false
	}
	c := Compare(value, arg)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

// equalsOrContains follows the document store rule that a scalar condition
// on an array field matches when any element equals it
func equalsOrContains(value any, present bool, cond any) bool {
	if !present {
		return cond == nil
	}
	if Compare(value, cond) == 0 && class(value) == class(cond) {
		return true
	}
	if items, ok := AsSlice(value); ok {
		if _, condIsSlice := AsSlice(cond); !condIsSlice {
			for _, item := range items {
				if class(item) == class(cond) && Compare(item, cond) == 0 {
					return true
				}
			}
		}
	}
	return false
}

func compileRegex(pattern, options any) (*regexp.Regexp, error) {
	p, ok := pattern.(string)
	if !ok {
		return nil, fmt.Errorf("%w: $regex needs a string, got %T", errors.ErrInvalidLookupValue, pattern)
	}
	opts, _ := options.(string)

	cacheKey := opts + "/" + p
	if re, ok := regexCache.Load(cacheKey); ok {
		return re.(*regexp.Regexp), nil
	}

	var flags strings.Builder
	for _, o := range opts {
		switch o {
		case 'i', 's', 'm':
			flags.WriteRune(o)
		default:
			return nil, fmt.Errorf("%w: unsupported regex option %q", errors.ErrInvalidOperator, o)
		}
	}
	full := p
	if flags.Len() > 0 {
		full = "(?" + flags.String() + ")" + p
	}
	re, err := regexp.Compile(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidLookupValue, err)
	}
	regexCache.Store(cacheKey, re)
	return re, nil
}

// Lookup resolves a dotted field path inside rec
func Lookup(rec core.Record, path string) (any, bool) {
	var cur any = map[string]any(rec)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func subDocuments(op string, v any) ([]core.Document, error) {
	switch subs := v.(type) {
	case []core.Document:
		return subs, nil
	case []any:
		out := make([]core.Document, 0, len(subs))
		for _, s := range subs {
			m, ok := asMap(s)
			if !ok {
				return nil, fmt.Errorf("%w: %s element must be a document, got %T", errors.ErrInvalidOperator, op, s)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s needs an array, got %T", errors.ErrInvalidOperator, op, v)
}

// operatorDocument reports whether cond is an operator document such as
// {"$gt": 2} rather than a literal value
func operatorDocument(cond any) (map[string]any, bool) {
	m, ok := asMap(cond)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case core.Record:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// AsSlice returns the elements of any slice value other than []byte
func AsSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// type classes in sort order
const (
	classNull = iota
	classNumber
	classString
	classObject
	classArray
	classBinary
	classBool
	classTime
	classOther
)

func class(v any) int {
	switch v.(type) {
	case nil:
		return classNull
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return classNumber
	case string:
		return classString
	case []byte:
		return classBinary
	case bool:
		return classBool
	case time.Time:
		return classTime
	}
	if _, ok := asMap(v); ok {
		return classObject
	}
	if _, ok := AsSlice(v); ok {
		return classArray
	}
	return classOther
}
