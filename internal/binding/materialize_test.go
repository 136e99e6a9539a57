package binding

import (
	"errors"
	"testing"

	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

func docSchema() *richdoc.Schema {
	return richdoc.NewSchema(
		[]richdoc.NodeSpec{
			{Name: "doc"},
			{Name: "paragraph"},
			{Name: "heading"},
		},
		[]richdoc.MarkSpec{
			{Name: "bold"},
			{Name: "link", Validate: func(attrs map[string]any) error {
				if _, ok := attrs["href"]; !ok {
					return errors.New("link requires href")
				}
				return nil
			}},
		},
	)
}

// structurallyEqual compares two richdoc trees by TypeName/Attrs/Text/Marks
// and recursively by Content, ignoring the synthetic ychange annotation the
// snapshot renderer injects — the comparison P3 needs.
func structurallyEqual(a, b *richdoc.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.IsText != b.IsText {
		return false
	}
	if a.IsText {
		if a.Text != b.Text || len(a.Marks) != len(b.Marks) {
			return false
		}
		for i := range a.Marks {
			if a.Marks[i].TypeName != b.Marks[i].TypeName {
				return false
			}
		}
		return true
	}
	if a.TypeName != b.TypeName || len(a.Content) != len(b.Content) {
		return false
	}
	for i := range a.Content {
		if !structurallyEqual(a.Content[i], b.Content[i]) {
			return false
		}
	}
	return true
}

func TestMaterializeElementRoundTripsBuiltSubtree(t *testing.T) {
	schema := docSchema()
	bold, err := schema.Mark("bold", nil)
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	text, err := schema.Text("hello", []*richdoc.Mark{bold})
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	para, err := schema.Node("paragraph", nil, []*richdoc.Node{text})
	if err != nil {
		t.Fatalf("Node: %v", err)
	}

	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	m := NewIdentityMap()

	doc.Transact("seed", func(txn *doctree.Transaction) {
		el := buildFromElement(doc, txn, para, m)
		frag.Insert(txn, 0, el)
	})

	m2 := NewIdentityMap()
	out, err := MaterializeElement(frag, "doc", schema, m2, nil, nil, nil)
	if err != nil {
		t.Fatalf("MaterializeElement: %v", err)
	}
	if len(out.Content) != 1 {
		t.Fatalf("expected one materialized child, got %d", len(out.Content))
	}
	if !structurallyEqual(out.Content[0], para) {
		t.Fatalf("expected materialize(build(P)) to equal P structurally;\nbuilt=%+v\ngot=%+v", para, out.Content[0])
	}
}

func TestMaterializeElementCachesViaIdentityMap(t *testing.T) {
	schema := docSchema()
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	m := NewIdentityMap()

	var el *doctree.Node
	doc.Transact("seed", func(txn *doctree.Transaction) {
		el = doctree.NewElementIn(doc, "paragraph")
		frag.Insert(txn, 0, el)
	})

	first, err := MaterializeElement(el, "doc", schema, m, nil, nil, nil)
	if err != nil {
		t.Fatalf("MaterializeElement: %v", err)
	}
	second, err := MaterializeElement(el, "doc", schema, m, nil, nil, nil)
	if err != nil {
		t.Fatalf("MaterializeElement: %v", err)
	}
	if first != second {
		t.Fatalf("expected the second MaterializeElement call to return the cached identity, not rebuild")
	}
}

func TestMaterializeElementSelfHealsSchemaRejectedNode(t *testing.T) {
	schema := docSchema()
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	m := NewIdentityMap()

	var rejected *doctree.Node
	doc.Transact("seed", func(txn *doctree.Transaction) {
		rejected = doctree.NewElementIn(doc, "blockquote") // not in schema
		frag.Insert(txn, 0, rejected)
	})

	out, err := MaterializeElement(frag, "doc", schema, m, nil, nil, nil)
	if err != nil {
		t.Fatalf("MaterializeElement: %v", err)
	}
	if len(out.Content) != 0 {
		t.Fatalf("expected the rejected node to be excluded from the materialized tree, got %d children", len(out.Content))
	}
	if !rejected.Deleted() {
		t.Fatalf("expected the rejected CRDT node to be self-healed (deleted)")
	}
	if !doc.DeleteSet().Contains(rejected.ID) {
		t.Fatalf("expected the self-healed node's id to appear in the document delete set")
	}
}

func TestMaterializeElementHookNodeIsFatalError(t *testing.T) {
	schema := docSchema()
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	m := NewIdentityMap()

	doc.Transact("seed", func(txn *doctree.Transaction) {
		hook := doctree.NewHook()
		frag.Insert(txn, 0, hook)
	})

	_, err := MaterializeElement(frag, "doc", schema, m, nil, nil, nil)
	if !errors.Is(err, ErrHookUnsupported) {
		t.Fatalf("expected ErrHookUnsupported, got %v", err)
	}
}

func TestMaterializeTextSelfHealsUnknownMark(t *testing.T) {
	schema := docSchema()
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	m := NewIdentityMap()

	var xt *doctree.Node
	doc.Transact("seed", func(txn *doctree.Transaction) {
		xt = doctree.NewTextIn(doc)
		frag.Insert(txn, 0, xt)
		xt.InsertText(txn, 0, "hi", map[string]any{"underline": true}) // unregistered mark
	})

	nodes, err := MaterializeText(xt, schema, m, nil, nil, nil)
	if err != nil {
		t.Fatalf("MaterializeText: %v", err)
	}
	if nodes != nil {
		t.Fatalf("expected self-healed text node to return nil, got %v", nodes)
	}
	if !xt.Deleted() {
		t.Fatalf("expected the text node carrying an unknown mark to be self-healed")
	}
}

func TestMaterializeElementAnnotatesRemovedAndAddedUnderSnapshotPair(t *testing.T) {
	schema := docSchema()
	doc := doctree.NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	m := NewIdentityMap()

	var stayed, removed *doctree.Node
	doc.Transact("seed", func(txn *doctree.Transaction) {
		stayed = doctree.NewElementIn(doc, "paragraph")
		removed = doctree.NewElementIn(doc, "paragraph")
		frag.Insert(txn, 0, stayed, removed)
	})
	prev := doctree.Snapshot{DeleteSet: doc.DeleteSet(), StateVector: doc.StateVector()}

	var added *doctree.Node
	doc.Transact("local", func(txn *doctree.Transaction) {
		removed.DeleteSelf(txn)
		added = doctree.NewElementIn(doc, "heading")
		frag.Insert(txn, 1, added)
	})
	snap := doctree.Snapshot{DeleteSet: doc.DeleteSet(), StateVector: doc.StateVector()}

	out, err := MaterializeElement(frag, "doc", schema, m, &snap, &prev, nil)
	if err != nil {
		t.Fatalf("MaterializeElement: %v", err)
	}
	if len(out.Content) != 3 {
		t.Fatalf("expected stayed+removed+added = 3 children in the historical view, got %d", len(out.Content))
	}

	var sawAdded, sawRemoved bool
	for _, c := range out.Content {
		change, ok := c.Attrs["ychange"].(map[string]any)
		if !ok {
			continue
		}
		switch change["type"] {
		case "added":
			sawAdded = true
		case "removed":
			sawRemoved = true
		}
	}
	if !sawAdded || !sawRemoved {
		t.Fatalf("expected both an added and a removed annotation in the historical view, content=%+v", out.Content)
	}
}
