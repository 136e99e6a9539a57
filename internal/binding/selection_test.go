package binding

import (
	"testing"

	"github.com/example/richtext-sync/internal/doctree"
)

func TestCaptureAndRestoreRelativeSelectionRoundTrips(t *testing.T) {
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	doc.Transact("seed", func(txn *doctree.Transaction) {
		xt := doctree.NewTextIn(doc)
		frag.Insert(txn, 0, xt)
		xt.InsertText(txn, 0, "hello world", nil)
	})

	sel := Selection{Anchor: 2, Head: 7}
	rel := CaptureRelative(frag, sel)

	got, ok := RestoreRelative(frag, rel)
	if !ok {
		t.Fatalf("expected the captured selection to restore")
	}
	if got != sel {
		t.Fatalf("expected round trip to recover %+v, got %+v", sel, got)
	}
}

func TestRestoreRelativeFailsWhenAnchorTextDeleted(t *testing.T) {
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	var xt *doctree.Node
	doc.Transact("seed", func(txn *doctree.Transaction) {
		xt = doctree.NewTextIn(doc)
		frag.Insert(txn, 0, xt)
		xt.InsertText(txn, 0, "hello", nil)
	})

	rel := CaptureRelative(frag, Selection{Anchor: 1, Head: 3})

	doc.Transact("local", func(txn *doctree.Transaction) {
		xt.Delete(txn, 0, 5)
	})

	_, ok := RestoreRelative(frag, rel)
	if ok {
		t.Fatalf("expected restoration to fail once the anchored text is deleted")
	}
}
