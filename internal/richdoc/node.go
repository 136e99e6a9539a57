package richdoc

// Mark is an inline formatting annotation attached to a text node, such as
// bold or a link. Two marks are considered the same annotation when their
// type name and attrs agree.
type Mark struct {
	TypeName string
	Attrs    map[string]any
}

// Node is either a block/inline element (Content holds children) or a text
// leaf (IsText, Text, Marks). A schema-constructed Node is immutable in the
// fields that participate in identity/equality comparisons; callers should
// treat Attrs/Marks/Content as read-only after construction.
type Node struct {
	TypeName string
	Attrs    map[string]any

	IsText bool
	Text   string
	Marks  []*Mark

	Content []*Node
}

// HasMark reports whether the node carries a mark of the given type name.
func (n *Node) HasMark(name string) (*Mark, bool) {
	for _, m := range n.Marks {
		if m.TypeName == name {
			return m, true
		}
	}
	return nil, false
}
