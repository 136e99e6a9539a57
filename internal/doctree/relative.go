package doctree

// RelativePosition anchors a cursor offset to a specific text piece rather
// than to a raw integer offset, so it survives concurrent edits elsewhere
// in the document. AtEnd marks "past the last live piece"; a zero ItemID
// with AtEnd=false and no live pieces at all means the position could not
// be anchored (empty document).
type RelativePosition struct {
	PieceID ItemID
	Offset  int
	AtEnd   bool
	ok      bool
}

// Valid reports whether the relative position anchored to something
// resolvable. An invalid position should not be restored (§7 error kind 4).
func (r RelativePosition) Valid() bool { return r.ok }

// flatPieces walks root's subtree in document order, collecting every live
// text piece of every live text node. This is the
// flattening a rich-text document's plain-text offsets are defined over.
func flatPieces(root *Node) []*textPiece {
	var out []*textPiece
	var walk func(n *Node)
	walk = func(n *Node) {
		switch n.Kind {
		case KindText:
			for _, p := range n.pieces {
				if !p.deleted {
					out = append(out, p)
				}
			}
		case KindFragment, KindElement:
			for _, c := range n.children {
				if !c.deleted {
					walk(c)
				}
			}
		}
	}
	walk(root)
	return out
}

// AbsoluteToRelative converts a flattened live-text offset under root into
// a RelativePosition. Returns !Valid() if the document has no live text to
// anchor to.
func AbsoluteToRelative(root *Node, offset int) RelativePosition {
	pieces := flatPieces(root)
	seen := 0
	for _, p := range pieces {
		n := len([]rune(p.content))
		if offset < seen+n {
			return RelativePosition{PieceID: p.id, Offset: offset - seen, ok: true}
		}
		seen += n
	}
	if len(pieces) == 0 {
		return RelativePosition{ok: false}
	}
	return RelativePosition{AtEnd: true, ok: true}
}

// RelativeToAbsolute resolves a RelativePosition back to a flattened
// live-text offset under root. Returns !ok if the anchored piece no longer
// exists or has since been deleted.
func RelativeToAbsolute(root *Node, rel RelativePosition) (int, bool) {
	if !rel.ok {
		return 0, false
	}
	pieces := flatPieces(root)
	if rel.AtEnd {
		total := 0
		for _, p := range pieces {
			total += len([]rune(p.content))
		}
		return total, true
	}
	seen := 0
	for _, p := range pieces {
		if p.id == rel.PieceID {
			return seen + rel.Offset, true
		}
		seen += len([]rune(p.content))
	}
	return 0, false
}
