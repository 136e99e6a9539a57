package binding

import "github.com/example/richtext-sync/internal/doctree"

// Selection is a pair of flattened-text offsets into the document, the
// shape the editor view's text selection takes at this module's boundary.
type Selection struct {
	Anchor int
	Head   int
}

// RelativeSelection is a selection captured as CRDT-relative positions
// (C8), immune to offset shifts caused by edits elsewhere in the document.
type RelativeSelection struct {
	Anchor doctree.RelativePosition
	Head   doctree.RelativePosition
}

// CaptureRelative converts an absolute editor selection into a
// RelativeSelection anchored against the fragment. Called at
// beforeTransaction if no capture is already pending (§4.9).
func CaptureRelative(fragment *doctree.Node, sel Selection) RelativeSelection {
	return RelativeSelection{
		Anchor: doctree.AbsoluteToRelative(fragment, sel.Anchor),
		Head:   doctree.AbsoluteToRelative(fragment, sel.Head),
	}
}

// RestoreRelative converts a RelativeSelection back to absolute offsets.
// ok is false if either end's anchor item no longer resolves, in which case
// the selection is silently not restored (§7 error kind 4).
func RestoreRelative(fragment *doctree.Node, rel RelativeSelection) (sel Selection, ok bool) {
	anchor, aok := doctree.RelativeToAbsolute(fragment, rel.Anchor)
	head, hok := doctree.RelativeToAbsolute(fragment, rel.Head)
	if !aok || !hok {
		return Selection{}, false
	}
	return Selection{Anchor: anchor, Head: head}, true
}
