package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// SecurityError represents a security validation error
type SecurityError struct {
	Type   string
	Field  string
	Detail string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security validation failed [%s]: %s - %s", e.Type, e.Field, e.Detail)
}

// Field validation constants
const (
	MaxFieldNameLength      = 1024
	MaxNestedDepth          = 32
	MaxCollectionNameLength = 255
)

// ValidateFieldName validates a document field path used as a filter key.
// Keys starting with '$' would be read as operators by the store, so they
// are rejected outright.
func ValidateFieldName(field string) error {
	if field == "" {
		return &SecurityError{
			Type:   "InvalidField",
			Field:  field,
			Detail: "field name cannot be empty",
		}
	}

	if len(field) > MaxFieldNameLength {
		return &SecurityError{
			Type:   "InvalidField",
			Field:  field,
			Detail: fmt.Sprintf("field name exceeds maximum length of %d characters", MaxFieldNameLength),
		}
	}

	for _, r := range field {
		if r == 0 || unicode.IsControl(r) {
			return &SecurityError{
				Type:   "InvalidField",
				Field:  field,
				Detail: "field name contains control characters",
			}
		}
	}

	parts := strings.Split(field, ".")
	if len(parts) > MaxNestedDepth {
		return &SecurityError{
			Type:   "InvalidField",
			Field:  field,
			Detail: fmt.Sprintf("nested field depth exceeds maximum of %d", MaxNestedDepth),
		}
	}

	for _, part := range parts {
		if err := validateFieldPart(part); err != nil {
			return &SecurityError{
				Type:   "InjectionAttempt",
				Field:  field,
				Detail: fmt.Sprintf("invalid field part '%s': %s", part, err.Error()),
			}
		}
	}

	return nil
}

// validateFieldPart validates a single part of a field path
func validateFieldPart(part string) error {
	if part == "" {
		return fmt.Errorf("field part cannot be empty")
	}
	if strings.HasPrefix(part, "$") {
		return fmt.Errorf("field part cannot start with '$'")
	}
	return nil
}

// ValidateCollectionName validates a collection name
func ValidateCollectionName(name string) error {
	if name == "" || len(name) > MaxCollectionNameLength {
		return &SecurityError{
			Type:   "InvalidCollectionName",
			Field:  name,
			Detail: fmt.Sprintf("collection name must be 1-%d characters", MaxCollectionNameLength),
		}
	}

	if strings.ContainsAny(name, "$\x00") {
		return &SecurityError{
			Type:   "InvalidCollectionName",
			Field:  name,
			Detail: "collection name cannot contain '$' or NUL",
		}
	}

	if strings.HasPrefix(name, "system.") {
		return &SecurityError{
			Type:   "InvalidCollectionName",
			Field:  name,
			Detail: "collection name cannot use the reserved 'system.' prefix",
		}
	}

	return nil
}
