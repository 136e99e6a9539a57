package binding

import (
	"testing"

	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

func TestEqualAttrsIgnoresNullsAndYchange(t *testing.T) {
	a := map[string]any{"align": "center", "removedKey": nil, "ychange": map[string]any{"type": "added"}}
	b := map[string]any{"align": "center"}
	if !equalAttrs(a, b) {
		t.Fatalf("expected attrs with only null/ychange differences to compare equal")
	}
}

func TestEqualAttrsDetectsRealDifference(t *testing.T) {
	a := map[string]any{"align": "center"}
	b := map[string]any{"align": "left"}
	if equalAttrs(a, b) {
		t.Fatalf("expected a real attribute value difference to compare unequal")
	}
}

func TestEqualTextComparesContentAndMarks(t *testing.T) {
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	var xt *doctree.Node
	doc.Transact("seed", func(txn *doctree.Transaction) {
		xt = doctree.NewTextIn(doc)
		frag.Insert(txn, 0, xt)
		xt.InsertText(txn, 0, "hello", map[string]any{"bold": true})
	})

	matching := []*richdoc.Node{{IsText: true, Text: "hello", Marks: []*richdoc.Mark{{TypeName: "bold", Attrs: map[string]any{"value": true}}}}}
	if !equalText(xt, matching) {
		t.Fatalf("expected equalText to match identical content and marks")
	}

	mismatched := []*richdoc.Node{{IsText: true, Text: "goodbye"}}
	if equalText(xt, mismatched) {
		t.Fatalf("expected equalText to reject different text content")
	}
}

func TestEqualTypeNodeRecursesStructurally(t *testing.T) {
	doc := doctree.NewDoc("alice")
	var para *doctree.Node
	doc.Transact("seed", func(txn *doctree.Transaction) {
		para = doctree.NewElementIn(doc, "paragraph")
		text := doctree.NewTextIn(doc)
		para.Insert(txn, 0, text)
		text.InsertText(txn, 0, "hi", nil)
	})

	match := normChild{element: &richdoc.Node{TypeName: "paragraph", Content: []*richdoc.Node{{IsText: true, Text: "hi"}}}}
	if !equalTypeNode(para, match) {
		t.Fatalf("expected equalTypeNode to match an equivalent paragraph")
	}

	mismatch := normChild{element: &richdoc.Node{TypeName: "heading", Content: []*richdoc.Node{{IsText: true, Text: "hi"}}}}
	if equalTypeNode(para, mismatch) {
		t.Fatalf("expected equalTypeNode to reject a different type name")
	}
}
