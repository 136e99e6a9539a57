// Package richdoc is the editor-side document model: a schema-validated
// tree of typed nodes carrying either block content or inline text with
// formatting marks. It plays the role the host rich-text editor plays as an
// external collaborator to package binding.
package richdoc

import (
	"errors"
	"fmt"
)

// ErrUnknownNodeType is returned by Schema.Node when the requested
// type name is not registered in the schema — the situation a remote peer
// running a newer or differently-configured schema produces.
var ErrUnknownNodeType = errors.New("richdoc: unknown node type")

// ErrUnknownMarkType is returned by Schema.Mark for an unregistered mark
// name.
var ErrUnknownMarkType = errors.New("richdoc: unknown mark type")

// NodeSpec describes one node type a schema accepts. Validate, if set, may
// reject an attribute combination; Inline marks leaf text-bearing types.
type NodeSpec struct {
	Name     string
	Inline   bool
	Validate func(attrs map[string]any, content []*Node) error
}

// MarkSpec describes one mark type a schema accepts.
type MarkSpec struct {
	Name     string
	Validate func(attrs map[string]any) error
}

// Schema is an immutable registry of node and mark types, mirroring the
// role a rich-text editor's schema plays: it is the sole authority on
// whether a given (name, attrs, children) combination may exist.
type Schema struct {
	nodes map[string]NodeSpec
	marks map[string]MarkSpec
}

// NewSchema builds a schema from the given node and mark specs.
func NewSchema(nodes []NodeSpec, marks []MarkSpec) *Schema {
	s := &Schema{nodes: map[string]NodeSpec{}, marks: map[string]MarkSpec{}}
	for _, n := range nodes {
		s.nodes[n.Name] = n
	}
	for _, m := range marks {
		s.marks[m.Name] = m
	}
	return s
}

// Node constructs a node by type name. Construction fails if the type name
// is unregistered or its Validate hook rejects the attrs/content
// combination — the error materializers (package binding, C3/C4) catch to
// drive self-healing deletion of the offending CRDT subtree.
func (s *Schema) Node(name string, attrs map[string]any, content []*Node) (*Node, error) {
	spec, ok := s.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, name)
	}
	if spec.Validate != nil {
		if err := spec.Validate(attrs, content); err != nil {
			return nil, fmt.Errorf("richdoc: node %q rejected: %w", name, err)
		}
	}
	return &Node{TypeName: name, Attrs: cloneAttrs(attrs), Content: content}, nil
}

// Text constructs an inline text node carrying the given marks.
func (s *Schema) Text(text string, marks []*Mark) (*Node, error) {
	return &Node{TypeName: "text", IsText: true, Text: text, Marks: marks}, nil
}

// Mark constructs a mark by type name.
func (s *Schema) Mark(name string, attrs map[string]any) (*Mark, error) {
	spec, ok := s.marks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMarkType, name)
	}
	if spec.Validate != nil {
		if err := spec.Validate(attrs); err != nil {
			return nil, fmt.Errorf("richdoc: mark %q rejected: %w", name, err)
		}
	}
	return &Mark{TypeName: name, Attrs: cloneAttrs(attrs)}, nil
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
