// Package expr provides composable boolean filter expressions and their
// compilation into native filter documents.
package expr

import (
	"sort"
)

// Connector joins two sub-expressions
type Connector string

const (
	AND Connector = "AND"
	OR  Connector = "OR"
)

// token returns the native operator for the connector
func (c Connector) token() string {
	if c == OR {
		return "$or"
	}
	return "$and"
}

// F is a flat set of field lookups, implicitly joined by AND
type F map[string]any

// Node is a boolean filter expression: either a *Leaf or a *Composite.
// Nodes are immutable; combining two nodes always builds a new Composite.
type Node interface {
	And(other Node) Node
	Or(other Node) Node

	node()
}

// Leaf matches a single field.
type Leaf struct {
	// Field may carry a lookup suffix such as "age__gt" when Lookup is empty
	Field string
	// Lookup is an explicit operator name such as "gt" or "text_search"
	Lookup string
	Value  any
}

// Composite joins two nodes with a connector.
type Composite struct {
	Connector Connector
	Left      Node
	Right     Node
}

func (*Leaf) node()      {}
func (*Composite) node() {}

// And returns a new node matching both l and other
func (l *Leaf) And(other Node) Node { return combine(AND, l, other) }

// Or returns a new node matching either l or other
func (l *Leaf) Or(other Node) Node { return combine(OR, l, other) }

// And returns a new node matching both c and other
func (c *Composite) And(other Node) Node { return combine(AND, c, other) }

// Or returns a new node matching either c or other
func (c *Composite) Or(other Node) Node { return combine(OR, c, other) }

// Q builds a leaf for field, which may carry a lookup suffix:
//
//	expr.Q("age__gt", 2).Or(expr.Q("name", "lawes"))
func Q(field string, value any) Node {
	return &Leaf{Field: field, Value: value}
}

// L builds a leaf with an explicit lookup operator
func L(field, lookup string, value any) Node {
	return &Leaf{Field: field, Lookup: lookup, Value: value}
}

// QF builds one leaf per field joined by AND, in key order. An empty map
// returns nil.
func QF(fields F) Node {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out Node
	for _, k := range keys {
		out = combine(AND, out, Q(k, fields[k]))
	}
	return out
}

// And left-folds nodes with AND, skipping nil entries
func And(nodes ...Node) Node {
	return fold(AND, nodes)
}

// Or left-folds nodes with OR, skipping nil entries
func Or(nodes ...Node) Node {
	return fold(OR, nodes)
}

func fold(c Connector, nodes []Node) Node {
	var out Node
	for _, n := range nodes {
		out = combine(c, out, n)
	}
	return out
}

func combine(c Connector, left, right Node) Node {
	if isNil(left) {
		return right
	}
	if isNil(right) {
		return left
	}
	return &Composite{Connector: c, Left: left, Right: right}
}

func isNil(n Node) bool {
	switch v := n.(type) {
	case nil:
		return true
	case *Leaf:
		return v == nil
	case *Composite:
		return v == nil
	}
	return false
}
