package binding

import (
	"testing"

	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

func newAttachedTextNode(t *testing.T, doc *doctree.Doc, frag *doctree.Node, seed string) *doctree.Node {
	t.Helper()
	var xt *doctree.Node
	doc.Transact("seed", func(txn *doctree.Transaction) {
		xt = doctree.NewTextIn(doc)
		frag.Insert(txn, 0, xt)
		if seed != "" {
			xt.InsertText(txn, 0, seed, nil)
		}
	})
	return xt
}

func TestReconcileTextAppliesMinimalMiddleEdit(t *testing.T) {
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	xt := newAttachedTextNode(t, doc, frag, "hello world")

	target := []*richdoc.Node{{IsText: true, Text: "hello there"}}
	doc.Transact("local", func(txn *doctree.Transaction) {
		ReconcileText(txn, xt, target)
	})

	if got := xt.PlainText(); got != "hello there" {
		t.Fatalf("expected 'hello there', got %q", got)
	}
}

func TestReconcileTextLeavesContentUntouchedWhenAlreadyEqual(t *testing.T) {
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	xt := newAttachedTextNode(t, doc, frag, "hello")

	target := []*richdoc.Node{{IsText: true, Text: "hello"}}

	doc.Transact("local", func(txn *doctree.Transaction) {
		ReconcileText(txn, xt, target)
	})

	if got := xt.PlainText(); got != "hello" {
		t.Fatalf("expected reconciling against an already-equal run to leave content unchanged (P4), got %q", got)
	}
	if len(xt.ActiveFormatKeys()) != 0 {
		t.Fatalf("expected no formatting keys to appear out of nowhere, got %v", xt.ActiveFormatKeys())
	}
}

func TestReconcileTextAppliesFormattingOnUnchangedText(t *testing.T) {
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	xt := newAttachedTextNode(t, doc, frag, "hello")

	bold := &richdoc.Mark{TypeName: "bold"}
	target := []*richdoc.Node{{IsText: true, Text: "hello", Marks: []*richdoc.Mark{bold}}}

	doc.Transact("local", func(txn *doctree.Transaction) {
		ReconcileText(txn, xt, target)
	})

	keys := xt.ActiveFormatKeys()
	found := false
	for _, k := range keys {
		if k == "bold" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bold formatting to be applied even though the text content did not change")
	}
	if got := xt.PlainText(); got != "hello" {
		t.Fatalf("expected text content to remain 'hello', got %q", got)
	}
}

func TestReconcileTextClearsRemovedFormatting(t *testing.T) {
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	xt := newAttachedTextNode(t, doc, frag, "")
	doc.Transact("local", func(txn *doctree.Transaction) {
		xt.InsertText(txn, 0, "hello", map[string]any{"bold": true})
	})

	target := []*richdoc.Node{{IsText: true, Text: "hello"}} // no marks now

	doc.Transact("local", func(txn *doctree.Transaction) {
		ReconcileText(txn, xt, target)
	})

	for _, k := range xt.ActiveFormatKeys() {
		if k == "bold" {
			t.Fatalf("expected bold to be cleared once no editor text node carries it")
		}
	}
}
