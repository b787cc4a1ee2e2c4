package expr

import (
	"fmt"

	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
	"github.com/pay-theory/docorm/pkg/validation"
)

// Compile lowers a node into a native filter document. A nil node compiles
// to the empty document, which matches everything.
func Compile(n Node) (core.Document, error) {
	switch v := n.(type) {
	case nil:
		return core.Document{}, nil
	case *Leaf:
		if v == nil {
			return core.Document{}, nil
		}
		return compileLeaf(v)
	case *Composite:
		if v == nil {
			return core.Document{}, nil
		}
		left, err := Compile(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := Compile(v.Right)
		if err != nil {
			return nil, err
		}
		return core.Document{v.Connector.token(): []core.Document{left, right}}, nil
	default:
		panic(fmt.Sprintf("expr: unknown node type %T", n))
	}
}

// CompileFields compiles a flat field map as the AND of its fields
func CompileFields(fields F) (core.Document, error) {
	return Compile(QF(fields))
}

// Validate compiles n and discards the result, reporting the first error
func Validate(n Node) error {
	_, err := Compile(n)
	return err
}

func compileLeaf(l *Leaf) (core.Document, error) {
	field, lookup, err := resolve(l)
	if err != nil {
		return nil, err
	}

	if err := validation.ValidateFieldName(field); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidField, err)
	}

	cond, err := lookup.Condition(field, l.Value)
	if err != nil {
		return nil, err
	}
	return core.Document{field: cond}, nil
}

// resolve picks the lookup from the explicit operator or else from the
// field suffix
func resolve(l *Leaf) (string, Lookup, error) {
	if l.Lookup == "" {
		field, lookup := Translate(l.Field)
		return field, lookup, nil
	}
	lookup, err := LookupByName(l.Lookup)
	if err != nil {
		return "", Lookup{}, err
	}
	return l.Field, lookup, nil
}
