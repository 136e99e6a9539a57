package binding

import (
	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

// mapValue is the identity map's value type: a sum of a single editor node
// (for a CRDT element/fragment) or an ordered run of editor text nodes (for
// a CRDT text type). Represented as a tagged struct rather than an
// interface because mappedIdentity needs a structural comparison that
// differs for the two cases (pointer equality vs. element-wise pointer
// equality over a slice).
type mapValue struct {
	isRun bool
	node  *richdoc.Node
	run   []*richdoc.Node
}

// IdentityMap is the bidirectional association between CRDT nodes and
// editor nodes (C1). Only materializers and reconcilers write to it;
// invariant I1 (each CRDT node appears at most once) holds because every
// write goes through Set, which simply overwrites.
type IdentityMap struct {
	entries map[*doctree.Node]mapValue
}

// NewIdentityMap constructs an empty identity map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: map[*doctree.Node]mapValue{}}
}

// GetElement returns the editor node mapped to a CRDT fragment/element, if
// present.
func (m *IdentityMap) GetElement(y *doctree.Node) (*richdoc.Node, bool) {
	v, ok := m.entries[y]
	if !ok || v.isRun {
		return nil, false
	}
	return v.node, true
}

// SetElement records the CRDT fragment/element's editor counterpart.
func (m *IdentityMap) SetElement(y *doctree.Node, n *richdoc.Node) {
	m.entries[y] = mapValue{node: n}
}

// GetTextRun returns the editor text run mapped to a CRDT text type, if
// present.
func (m *IdentityMap) GetTextRun(y *doctree.Node) ([]*richdoc.Node, bool) {
	v, ok := m.entries[y]
	if !ok || !v.isRun {
		return nil, false
	}
	return v.run, true
}

// SetTextRun records the CRDT text type's editor counterpart.
func (m *IdentityMap) SetTextRun(y *doctree.Node, run []*richdoc.Node) {
	m.entries[y] = mapValue{isRun: true, run: run}
}

// Delete removes a CRDT node's entry, part of invariant I3's monotone
// invalidation on CRDT-side deletion.
func (m *IdentityMap) Delete(y *doctree.Node) {
	delete(m.entries, y)
}

// Clear empties the map: done at binding construction, destroy,
// forceRerender, unrenderSnapshot, and the top of renderSnapshot.
func (m *IdentityMap) Clear() {
	m.entries = map[*doctree.Node]mapValue{}
}

// mappedIdentityElement reports whether mapped is exactly p by identity.
func mappedIdentityElement(mapped *richdoc.Node, ok bool, p *richdoc.Node) bool {
	return ok && mapped == p
}

// mappedIdentityTextRun reports whether mapped is exactly ps, element-wise,
// by identity and equal length.
func mappedIdentityTextRun(mapped []*richdoc.Node, ok bool, ps []*richdoc.Node) bool {
	if !ok || len(mapped) != len(ps) {
		return false
	}
	for i := range mapped {
		if mapped[i] != ps[i] {
			return false
		}
	}
	return true
}
