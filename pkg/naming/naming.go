package naming

import (
	"reflect"
	"strings"
)

// ResolveFieldName determines the stored name of a struct field the way the
// bson codec does. It returns the name, whether the field is marked
// omitempty, and whether the field should be skipped.
func ResolveFieldName(field reflect.StructField) (name string, omitEmpty bool, skip bool) {
	name = DefaultFieldName(field.Name)

	tag, ok := field.Tag.Lookup("bson")
	if !ok {
		return name, false, false
	}
	if tag == "-" {
		return "", false, true
	}

	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if strings.TrimSpace(opt) == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// DefaultFieldName is the stored name of an untagged field: the whole Go
// name lowercased
func DefaultFieldName(name string) string {
	return strings.ToLower(name)
}

// CollectionName derives a collection name from a type name: lowercased and
// pluralised
func CollectionName(typeName string) string {
	name := strings.ToLower(typeName)
	if name == "" {
		return ""
	}

	switch {
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"),
		strings.HasSuffix(name, "ch"), strings.HasSuffix(name, "sh"):
		return name + "es"
	case strings.HasSuffix(name, "y") && len(name) > 1 && !isVowel(name[len(name)-2]):
		return name[:len(name)-1] + "ies"
	}
	return name + "s"
}

func isVowel(b byte) bool {
	return strings.IndexByte("aeiou", b) >= 0
}
