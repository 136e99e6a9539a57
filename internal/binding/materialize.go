package binding

import (
	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

// ComputeChangeFunc resolves a change annotation for a CRDT item during a
// snapshot render. kind is "added" or "removed". A nil ComputeChangeFunc
// renders change annotations as a bare {"type": kind} map.
type ComputeChangeFunc func(kind string, id doctree.ItemID) any

func computeChangeOrDefault(fn ComputeChangeFunc, kind string, id doctree.ItemID) any {
	if fn != nil {
		return fn(kind, id)
	}
	return map[string]any{"type": kind}
}

// selfHeal deletes a rejected CRDT subtree in its own document transaction,
// the rule §4.3/§4.4/§7 use to keep the tree convergent when a concurrent
// remote edit produces a combination this replica's schema forbids.
func selfHeal(n *doctree.Node) {
	n.Doc().Transact("self-heal", func(txn *doctree.Transaction) {
		n.DeleteSelf(txn)
	})
	selfHealingDeletions.Inc()
}

// MaterializeElement builds an editor subtree from a CRDT fragment/element
// (C3). snap/prev, when both non-nil, bound a historical view and inject
// ychange annotations; computeChange resolves an added/removed item to an
// author-attributed value. rootName supplies the editor type name to use
// when el is the nameless top-level fragment (XmlFragment has no node name
// of its own; the editor's root node does).
//
// The only non-nil error this returns is ErrHookUnsupported — a fatal
// configuration error. A nil node with a nil error means the subtree was
// schema-rejected and self-healed; the caller must filter it out.
func MaterializeElement(el *doctree.Node, rootName string, schema *richdoc.Schema, m *IdentityMap, snap, prev *doctree.Snapshot, computeChange ComputeChangeFunc) (*richdoc.Node, error) {
	if cached, ok := m.GetElement(el); ok {
		return cached, nil
	}
	if el.Kind == doctree.KindHook {
		return nil, ErrHookUnsupported
	}

	name := el.Name
	var attrs map[string]any
	if el.Kind == doctree.KindElement {
		attrs = el.GetAttributes(snap)
	} else {
		attrs = map[string]any{}
		name = rootName
	}

	effectivePrev := prev
	if snap != nil && el.Kind == doctree.KindElement {
		switch {
		case !el.IsVisible(snap):
			attrs["ychange"] = computeChangeOrDefault(computeChange, "removed", el.ID)
			effectivePrev = snap
		case !el.IsVisible(prev):
			attrs["ychange"] = computeChangeOrDefault(computeChange, "added", el.ID)
			effectivePrev = snap
		}
	}

	var childItems []*doctree.Node
	if snap == nil {
		childItems = el.ToArray()
	} else {
		childItems = el.ToArraySnapshot(snap, prev)
	}

	children := make([]*richdoc.Node, 0, len(childItems))
	for _, c := range childItems {
		switch c.Kind {
		case doctree.KindElement, doctree.KindFragment:
			child, err := MaterializeElement(c, rootName, schema, m, snap, effectivePrev, computeChange)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
		case doctree.KindText:
			texts, err := MaterializeText(c, schema, m, snap, effectivePrev, computeChange)
			if err != nil {
				return nil, err
			}
			children = append(children, texts...)
		case doctree.KindHook:
			return nil, ErrHookUnsupported
		}
	}

	node, err := schema.Node(name, attrs, children)
	if err != nil {
		selfHeal(el)
		m.Delete(el)
		return nil, nil
	}
	m.SetElement(el, node)
	return node, nil
}

// MaterializeText builds a run of inline editor text nodes from a CRDT
// text type's delta (C4).
func MaterializeText(xmlText *doctree.Node, schema *richdoc.Schema, m *IdentityMap, snap, prev *doctree.Snapshot, computeChange ComputeChangeFunc) ([]*richdoc.Node, error) {
	if cached, ok := m.GetTextRun(xmlText); ok {
		return cached, nil
	}

	delta := xmlText.ToDelta(snap, prev, func(kind string, id doctree.ItemID) any {
		return computeChangeOrDefault(computeChange, kind, id)
	})

	nodes := make([]*richdoc.Node, 0, len(delta))
	for _, op := range delta {
		marks := make([]*richdoc.Mark, 0, len(op.Attributes))
		rejected := false
		var ychange *richdoc.Mark
		for name, value := range op.Attributes {
			// ychange is synthesized by ToDelta for a snapshot-pair render,
			// not a real mark any schema registers; attach it directly
			// rather than routing it through schema.Mark.
			if name == "ychange" {
				ychange = &richdoc.Mark{TypeName: "ychange", Attrs: attrsAsMap(value)}
				continue
			}
			mark, err := schema.Mark(name, attrsAsMap(value))
			if err != nil {
				rejected = true
				break
			}
			marks = append(marks, mark)
		}
		if rejected {
			selfHeal(xmlText)
			m.Delete(xmlText)
			return nil, nil
		}
		node, err := schema.Text(op.Insert, marks)
		if err != nil {
			selfHeal(xmlText)
			m.Delete(xmlText)
			return nil, nil
		}
		if ychange != nil {
			node.Marks = append(node.Marks, ychange)
		}
		nodes = append(nodes, node)
	}

	m.SetTextRun(xmlText, nodes)
	return nodes, nil
}

func attrsAsMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}
