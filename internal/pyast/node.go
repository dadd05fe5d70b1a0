// Package pyast holds Python syntax trees produced by the interpreter's own
// parser and the traversal the validator and the auto-print rewrite use.
//
// A tree is a tagged variant: every Node carries the interpreter's node
// type name and its fields in declaration order, and every field value is
// either null, a node, a list of values, or a scalar. Nothing about the
// language's node kinds is hard-coded here, so a traversal over Fields
// reaches every child of every kind.
package pyast

import (
	"bytes"
)

// Pos is a source span. Lines are 1-based, columns are 0-based byte
// offsets into the UTF-8 encoded line.
type Pos struct {
	Line    int
	Col     int
	EndLine int
	EndCol  int
}

// Node is one syntax tree node.
type Node struct {
	Type   string
	Pos    *Pos // set for statements only
	Fields []Field
}

// Field is a named child slot of a Node.
type Field struct {
	Name  string
	Value Value
}

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNode
	KindList
	KindScalar
)

// Value is a field value. Exactly one of Node, List or Scalar is set,
// according to Kind.
type Value struct {
	Kind   Kind
	Node   *Node
	List   []Value
	Scalar any // string, json.Number or bool
}

// Field returns the value of the named field, or a null Value if the node
// has no such field. A missing field, a null one and an empty list are
// all reported as null.
func (n *Node) Field(name string) Value {
	if n == nil {
		return Value{}
	}
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return Value{}
}

// Child returns the node held by the named field, or nil.
func (n *Node) Child(name string) *Node {
	v := n.Field(name)
	if v.Kind != KindNode {
		return nil
	}
	return v.Node
}

// Children returns the nodes held in the named list field.
func (n *Node) Children(name string) []*Node {
	v := n.Field(name)
	if v.Kind != KindList {
		return nil
	}
	out := make([]*Node, 0, len(v.List))
	for _, item := range v.List {
		if item.Kind == KindNode {
			out = append(out, item.Node)
		}
	}
	return out
}

// Ident returns the string held by the named field, or "" when the field
// is missing, null, or not a string.
func (n *Node) Ident(name string) string {
	v := n.Field(name)
	if v.Kind != KindScalar {
		return ""
	}
	s, _ := v.Scalar.(string)
	return s
}

// Is reports whether n is a non-nil node of the given type.
func (n *Node) Is(typ string) bool {
	return n != nil && n.Type == typ
}

// UnmarshalJSON decodes the helper's node encoding:
//
//	{"_t": "Expr", "_p": [line, col, end_line, end_col], "value": {"_t": "Name", "id": "x"}}
//
// Keys other than "_t" and "_p" are fields, in declaration order. Null and
// empty list fields and expression contexts are left out by the helper.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := newDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	node, err := decodeNode(dec)
	if err != nil {
		return err
	}
	*n = *node
	return nil
}

// UnmarshalJSON picks the variant from the first token of the encoding.
func (v *Value) UnmarshalJSON(data []byte) error {
	val, err := decodeValue(newDecoder(bytes.NewReader(data)))
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// Constructors, mostly for building trees by hand in tests.

// NewNode returns a node of the given type with the given fields.
func NewNode(typ string, fields ...Field) *Node {
	return &Node{Type: typ, Fields: fields}
}

// F returns a field.
func F(name string, v Value) Field { return Field{Name: name, Value: v} }

// NodeVal wraps a node.
func NodeVal(n *Node) Value { return Value{Kind: KindNode, Node: n} }

// ListVal wraps a list of values.
func ListVal(items ...Value) Value { return Value{Kind: KindList, List: items} }

// StrVal wraps a string scalar.
func StrVal(s string) Value { return Value{Kind: KindScalar, Scalar: s} }

// Null is the null value.
func Null() Value { return Value{} }
