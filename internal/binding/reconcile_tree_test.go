package binding

import (
	"testing"

	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

func paragraphWithText(text string) *richdoc.Node {
	return &richdoc.Node{TypeName: "paragraph", Content: []*richdoc.Node{{IsText: true, Text: text}}}
}

func TestReconcileTreeBuildsFreshSubtreeIntoEmptyFragment(t *testing.T) {
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	m := NewIdentityMap()

	p := &richdoc.Node{TypeName: "doc", Content: []*richdoc.Node{paragraphWithText("hello")}}

	doc.Transact("local", func(txn *doctree.Transaction) {
		if err := ReconcileTree(txn, frag, p, m); err != nil {
			t.Fatalf("ReconcileTree: %v", err)
		}
	})

	children := frag.ToArray()
	if len(children) != 1 || children[0].Name != "paragraph" {
		t.Fatalf("expected one paragraph child, got %+v", children)
	}
	text := children[0].ToArray()[0]
	if got := text.PlainText(); got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestReconcileTreePreservesUnrelatedSiblingIdentity(t *testing.T) {
	// Mirrors the concrete scenario: <doc><p>hello</p><p>world</p></doc>,
	// user replaces the first paragraph; the second paragraph's CRDT
	// identity must survive unchanged (P2).
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	m := NewIdentityMap()

	original := &richdoc.Node{TypeName: "doc", Content: []*richdoc.Node{
		paragraphWithText("hello"),
		paragraphWithText("world"),
	}}
	doc.Transact("seed", func(txn *doctree.Transaction) {
		if err := ReconcileTree(txn, frag, original, m); err != nil {
			t.Fatalf("ReconcileTree seed: %v", err)
		}
	})

	secondParagraphID := frag.ToArray()[1].ID

	heading := &richdoc.Node{TypeName: "heading", Content: []*richdoc.Node{{IsText: true, Text: "HELLO"}}}
	updated := &richdoc.Node{TypeName: "doc", Content: []*richdoc.Node{
		heading,
		paragraphWithText("world"),
	}}
	doc.Transact("local", func(txn *doctree.Transaction) {
		if err := ReconcileTree(txn, frag, updated, m); err != nil {
			t.Fatalf("ReconcileTree update: %v", err)
		}
	})

	children := frag.ToArray()
	if len(children) != 2 {
		t.Fatalf("expected 2 live children, got %d", len(children))
	}
	if children[0].Name != "heading" {
		t.Fatalf("expected the first child to become a heading, got %q", children[0].Name)
	}
	if children[1].Name != "paragraph" || children[1].ID != secondParagraphID {
		t.Fatalf("expected the second paragraph's identity to be preserved at %v, got name=%q id=%v",
			secondParagraphID, children[1].Name, children[1].ID)
	}
}

func TestReconcileTreeIsIdempotentWhenAlreadyEquivalent(t *testing.T) {
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	m := NewIdentityMap()

	p := &richdoc.Node{TypeName: "doc", Content: []*richdoc.Node{paragraphWithText("hello")}}
	doc.Transact("seed", func(txn *doctree.Transaction) {
		if err := ReconcileTree(txn, frag, p, m); err != nil {
			t.Fatalf("ReconcileTree seed: %v", err)
		}
	})
	childID := frag.ToArray()[0].ID

	equivalent := &richdoc.Node{TypeName: "doc", Content: []*richdoc.Node{paragraphWithText("hello")}}
	doc.Transact("local", func(txn *doctree.Transaction) {
		if err := ReconcileTree(txn, frag, equivalent, m); err != nil {
			t.Fatalf("ReconcileTree repeat: %v", err)
		}
	})

	children := frag.ToArray()
	if len(children) != 1 || children[0].ID != childID {
		t.Fatalf("expected reconciling an equalTypeNode-equivalent doc to leave the CRDT subtree untouched (P4), got %+v", children)
	}
}

func TestReconcileTreeRejectsMismatchedElementName(t *testing.T) {
	doc := doctree.NewDoc("alice")
	var el *doctree.Node
	doc.Transact("seed", func(txn *doctree.Transaction) {
		el = doctree.NewElementIn(doc, "paragraph")
	})
	m := NewIdentityMap()

	p := &richdoc.Node{TypeName: "heading"}
	doc.Transact("local", func(txn *doctree.Transaction) {
		if err := ReconcileTree(txn, el, p, m); err == nil {
			t.Fatalf("expected ReconcileTree to reject a name mismatch between CRDT element and editor node")
		}
	})
}

func TestReconcileTreeTieBreakPrefersRightOnFullTie(t *testing.T) {
	// Two candidate elements with equal name and equal equality factor (both
	// empty, neither identity-mapped): the tie-break must prefer the right
	// side per the documented open-question resolution.
	if !preferRight(false, 0, false, 0) {
		t.Fatalf("expected preferRight to favor the right side on a full tie")
	}
	if preferRight(true, 0, false, 0) {
		t.Fatalf("expected preferRight to favor the side with a mapped identity match regardless of factor")
	}
	if !preferRight(false, 1, false, 3) {
		t.Fatalf("expected preferRight to favor the strictly larger equality factor")
	}
}
