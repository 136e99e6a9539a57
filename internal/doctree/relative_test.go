package doctree

import "testing"

func TestRelativePositionSurvivesConcurrentInsertBeforeAnchor(t *testing.T) {
	doc := NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	var text *Node
	doc.Transact("seed", func(txn *Transaction) {
		text = NewText()
		frag.Insert(txn, 0, text)
		text.InsertText(txn, 0, "hello world", nil)
	})

	rel := AbsoluteToRelative(frag, 6) // anchored just before "world"
	if !rel.Valid() {
		t.Fatalf("expected a valid relative position")
	}

	doc.Transact("remote", func(txn *Transaction) {
		text.InsertText(txn, 0, "say ", nil)
	})

	abs, ok := RelativeToAbsolute(frag, rel)
	if !ok {
		t.Fatalf("expected relative position to still resolve")
	}
	if abs != 10 {
		t.Fatalf("expected anchor to shift with the preceding insert to offset 10, got %d", abs)
	}
}

func TestRelativePositionAtEndTracksDocumentGrowth(t *testing.T) {
	doc := NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	var text *Node
	doc.Transact("seed", func(txn *Transaction) {
		text = NewText()
		frag.Insert(txn, 0, text)
		text.InsertText(txn, 0, "hello", nil)
	})

	rel := AbsoluteToRelative(frag, 5)
	if !rel.AtEnd {
		t.Fatalf("expected an offset at the document's live length to anchor AtEnd")
	}

	doc.Transact("local", func(txn *Transaction) {
		text.InsertText(txn, 5, " world", nil)
	})

	abs, ok := RelativeToAbsolute(frag, rel)
	if !ok || abs != 11 {
		t.Fatalf("expected AtEnd anchor to track growth to offset 11, got abs=%d ok=%v", abs, ok)
	}
}

func TestRelativePositionInvalidOnEmptyDocument(t *testing.T) {
	doc := NewDoc("alice")
	frag := doc.GetXmlFragment("default")

	rel := AbsoluteToRelative(frag, 0)
	if rel.Valid() {
		t.Fatalf("expected an empty document to produce an invalid relative position")
	}
}

func TestRelativePositionInvalidAfterAnchorDeleted(t *testing.T) {
	doc := NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	var text *Node
	doc.Transact("seed", func(txn *Transaction) {
		text = NewText()
		frag.Insert(txn, 0, text)
		text.InsertText(txn, 0, "hello", nil)
	})

	rel := AbsoluteToRelative(frag, 2)

	doc.Transact("local", func(txn *Transaction) {
		text.Delete(txn, 0, 5)
	})

	_, ok := RelativeToAbsolute(frag, rel)
	if ok {
		t.Fatalf("expected resolution to fail once the anchored piece is deleted")
	}
}
