package match

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pay-theory/docorm/pkg/core"
)

// Compare orders two values: first by type class (null, numbers, strings,
// documents, arrays, binary, booleans, times), then by value. Numbers of
// different Go types compare by numeric value.
func Compare(a, b any) int {
	ca, cb := class(a), class(b)
	if ca != cb {
		return cmpInt(ca, cb)
	}

	switch ca {
	case classNull:
		return 0
	case classNumber:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case classString:
		return strings.Compare(a.(string), b.(string))
	case classBinary:
		return bytes.Compare(a.([]byte), b.([]byte))
	case classBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case classTime:
		return a.(time.Time).Compare(b.(time.Time))
	case classArray:
		sa, _ := AsSlice(a)
		sb, _ := AsSlice(b)
		for i := 0; i < len(sa) && i < len(sb); i++ {
			if c := Compare(sa[i], sb[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(sa), len(sb))
	case classObject:
		ma, _ := asMap(a)
		mb, _ := asMap(b)
		return compareMaps(ma, mb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareMaps(a, b map[string]any) int {
	ka, kb := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := Compare(a[ka[i]], b[kb[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(ka), len(kb))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// Normalize maps every number to float64 and every slice to []any so values
// read back from stores that only keep one numeric or array type compare and
// hash consistently
func Normalize(v any) any {
	if class(v) == classNumber {
		return toFloat(v)
	}
	if elems, ok := AsSlice(v); ok {
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = Normalize(e)
		}
		return out
	}
	return v
}

// SortRecords orders records in place by field. Records missing the field
// sort as null. The sort is stable.
func SortRecords(recs []core.Record, field string, dir core.Direction) {
	sort.SliceStable(recs, func(i, j int) bool {
		vi, _ := Lookup(recs[i], field)
		vj, _ := Lookup(recs[j], field)
		c := Compare(vi, vj)
		if dir == core.Descending {
			return c > 0
		}
		return c < 0
	})
}

// Window applies skip then limit to recs. A negative limit means no limit.
func Window(recs []core.Record, skip, limit int) []core.Record {
	if skip > 0 {
		if skip >= len(recs) {
			return nil
		}
		recs = recs[skip:]
	}
	if limit >= 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}
