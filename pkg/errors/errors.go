// Package errors defines error types and utilities for docorm
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common errors that can occur in docorm operations
var (
	// ErrDoesNotExist is returned when a single-result query matches nothing
	ErrDoesNotExist = errors.New("matching query does not exist")

	// ErrMultipleObjectsReturned is returned when a single-result query matches more than one record
	ErrMultipleObjectsReturned = errors.New("query returned more than one record")

	// ErrUnique is returned when GetOrCreate is used with keys that are not uniquely indexed
	ErrUnique = errors.New("unique constraint failed")

	// ErrInvalidLookupValue is returned when a lookup is applied to a value of the wrong type
	ErrInvalidLookupValue = errors.New("invalid lookup value")

	// ErrConfiguration is returned when the store is used before it is configured
	ErrConfiguration = errors.New("configuration error")

	// ErrCatalogNotEstablished is returned by stores when a collection has no index catalog yet
	ErrCatalogNotEstablished = errors.New("index catalog not established")

	// ErrInvalidField is returned when a field name cannot be used in a filter
	ErrInvalidField = errors.New("invalid field name")

	// ErrInvalidOperator is returned when an unknown lookup operator is used
	ErrInvalidOperator = errors.New("invalid query operator")

	// ErrInvalidPagination is returned for negative or reversed skip/limit bounds
	ErrInvalidPagination = errors.New("invalid pagination")

	// ErrUnsupportedIndex is returned when a store cannot build the requested index
	ErrUnsupportedIndex = errors.New("unsupported index")

	// ErrDuplicateKey is returned when a write violates a unique index
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidModel is returned when a model type cannot be mapped
	ErrInvalidModel = errors.New("invalid model")

	// ErrInvalidTag is returned when a struct tag is malformed
	ErrInvalidTag = errors.New("invalid struct tag")
)

// DocORMError represents a detailed error with context
type DocORMError struct {
	Op      string         // Operation that failed
	Model   string         // Collection name
	Err     error          // Underlying error
	Context map[string]any // Additional context
}

// Error implements the error interface
func (e *DocORMError) Error() string {
	// Filter values can carry user data, keep them out of the message
	return fmt.Sprintf("docorm: %s operation failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *DocORMError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *DocORMError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new DocORMError
func NewError(op, model string, err error) *DocORMError {
	return &DocORMError{
		Op:    op,
		Model: model,
		Err:   err,
	}
}

// NewErrorWithContext creates a new DocORMError with context
func NewErrorWithContext(op, model string, err error, context map[string]any) *DocORMError {
	return &DocORMError{
		Op:      op,
		Model:   model,
		Err:     err,
		Context: context,
	}
}

// ConfigurationError reports a required setting that is missing or invalid.
type ConfigurationError struct {
	Key    string
	Detail string
}

func (e *ConfigurationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Detail)
	}
	return fmt.Sprintf("configuration error: missing required key %q", e.Key)
}

// Is matches ErrConfiguration
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// MissingKey returns a ConfigurationError for an absent key
func MissingKey(key string) *ConfigurationError {
	return &ConfigurationError{Key: key}
}

// UniqueError names the keys of a GetOrCreate lookup that have no unique index.
type UniqueError struct {
	Collection string
	Keys       []string
}

func (e *UniqueError) Error() string {
	return fmt.Sprintf("unique constraint failed: %s: [%s], please establish a unique index first",
		e.Collection, strings.Join(e.Keys, ", "))
}

// Is matches ErrUnique
func (e *UniqueError) Is(target error) bool {
	return target == ErrUnique
}

// NewUniqueError builds a UniqueError with the keys in sorted order
func NewUniqueError(collection string, keys []string) *UniqueError {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return &UniqueError{Collection: collection, Keys: sorted}
}

// LookupValueError reports a lookup applied to a value it cannot handle,
// e.g. a text search on a number.
type LookupValueError struct {
	Field  string
	Lookup string
	Value  any
}

func (e *LookupValueError) Error() string {
	return fmt.Sprintf("can not %s on %s with %T, only string", e.Lookup, e.Field, e.Value)
}

// Is matches ErrInvalidLookupValue
func (e *LookupValueError) Is(target error) bool {
	return target == ErrInvalidLookupValue
}

// Server error codes carried by StoreOperationFailure. Stores other than
// MongoDB report the same codes for the same conditions.
const (
	CodeNamespaceNotFound = 26
	CodeDuplicateKey      = 11000
)

// StoreOperationFailure wraps an error returned by the underlying store.
type StoreOperationFailure struct {
	Op   string
	Code int
	Err  error
}

func (e *StoreOperationFailure) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("store %s failed (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreOperationFailure) Unwrap() error {
	return e.Err
}

// NewStoreFailure wraps err unless it is nil
func NewStoreFailure(op string, code int, err error) error {
	if err == nil {
		return nil
	}
	return &StoreOperationFailure{Op: op, Code: code, Err: err}
}

// IsDoesNotExist checks if an error indicates no record matched
func IsDoesNotExist(err error) bool {
	return errors.Is(err, ErrDoesNotExist)
}

// IsMultipleObjectsReturned checks if an error indicates more than one match
func IsMultipleObjectsReturned(err error) bool {
	return errors.Is(err, ErrMultipleObjectsReturned)
}

// IsUnique checks if an error is a uniqueness guard failure
func IsUnique(err error) bool {
	return errors.Is(err, ErrUnique)
}

// IsCatalogNotEstablished checks if a store reported a missing index catalog
func IsCatalogNotEstablished(err error) bool {
	return errors.Is(err, ErrCatalogNotEstablished)
}

// IsStoreFailure checks if an error came from the store
func IsStoreFailure(err error) bool {
	var sf *StoreOperationFailure
	return errors.As(err, &sf)
}
