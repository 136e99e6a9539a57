package binding

import (
	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

// buildFromElement is the inverse of MaterializeElement (§4.7): it creates
// a fresh CRDT subtree reproducing an editor node, recording every new CRDT
// node's identity-map entry as it goes.
func buildFromElement(doc *doctree.Doc, txn *doctree.Transaction, node *richdoc.Node, m *IdentityMap) *doctree.Node {
	el := doctree.NewElementIn(doc, node.TypeName)
	for k, v := range node.Attrs {
		if k == "ychange" || v == nil {
			continue
		}
		el.SetAttribute(txn, k, v)
	}

	norm := normalize(node)
	children := make([]*doctree.Node, 0, len(norm))
	for _, nc := range norm {
		if nc.isText() {
			children = append(children, buildFromTextRun(doc, txn, nc.textRun, m))
		} else {
			children = append(children, buildFromElement(doc, txn, nc.element, m))
		}
	}
	if len(children) > 0 {
		el.Insert(txn, 0, children...)
	}

	m.SetElement(el, node)
	return el
}

// buildFromTextRun is the inverse of MaterializeText: it creates a fresh
// CRDT text type carrying the same content and marks as an ordered run of
// editor text nodes.
func buildFromTextRun(doc *doctree.Doc, txn *doctree.Transaction, nodes []*richdoc.Node, m *IdentityMap) *doctree.Node {
	xt := doctree.NewTextIn(doc)
	offset := 0
	for _, n := range nodes {
		xt.InsertText(txn, offset, n.Text, marksToAttrs(n.Marks))
		offset += len([]rune(n.Text))
	}
	m.SetTextRun(xt, nodes)
	return xt
}
