package doctree

import "testing"

func newAttachedText(t *testing.T) (*Doc, *Node) {
	t.Helper()
	doc := NewDoc("alice")
	frag := doc.GetXmlFragment("default")
	var text *Node
	doc.Transact("seed", func(txn *Transaction) {
		text = NewText()
		frag.Insert(txn, 0, text)
	})
	return doc, text
}

func TestTextInsertAndPlainText(t *testing.T) {
	doc, text := newAttachedText(t)
	doc.Transact("local", func(txn *Transaction) {
		text.InsertText(txn, 0, "hello", nil)
		text.InsertText(txn, 5, " world", nil)
	})
	if got := text.PlainText(); got != "hello world" {
		t.Fatalf("expected 'hello world', got %q", got)
	}
}

func TestTextInsertAtInteriorOffsetSplitsPiece(t *testing.T) {
	doc, text := newAttachedText(t)
	doc.Transact("local", func(txn *Transaction) {
		text.InsertText(txn, 0, "helloworld", nil)
	})
	doc.Transact("local", func(txn *Transaction) {
		text.InsertText(txn, 5, " ", nil)
	})
	if got := text.PlainText(); got != "hello world" {
		t.Fatalf("expected interior insert to land at offset 5, got %q", got)
	}
}

func TestTextDeleteTombstonesRange(t *testing.T) {
	doc, text := newAttachedText(t)
	doc.Transact("local", func(txn *Transaction) {
		text.InsertText(txn, 0, "hello world", nil)
	})
	doc.Transact("local", func(txn *Transaction) {
		text.Delete(txn, 5, 6)
	})
	if got := text.PlainText(); got != "hello" {
		t.Fatalf("expected 'hello' after deleting ' world', got %q", got)
	}
	if text.liveLen() != 5 {
		t.Fatalf("expected liveLen=5, got %d", text.liveLen())
	}
}

func TestApplyDeltaInsertRetainDelete(t *testing.T) {
	doc, text := newAttachedText(t)
	doc.Transact("local", func(txn *Transaction) {
		text.ApplyDelta(txn, []DeltaOp{{Insert: "hello world"}})
	})
	doc.Transact("local", func(txn *Transaction) {
		text.ApplyDelta(txn, []DeltaOp{
			{Retain: 6},
			{Delete: 5},
			{Insert: "there"},
		})
	})
	if got := text.PlainText(); got != "hello there" {
		t.Fatalf("expected 'hello there', got %q", got)
	}
}

func TestApplyDeltaRetainWithAttributesSetsFormatOnRange(t *testing.T) {
	doc, text := newAttachedText(t)
	doc.Transact("local", func(txn *Transaction) {
		text.ApplyDelta(txn, []DeltaOp{{Insert: "hello", Attributes: map[string]any{"bold": true}}})
	})
	doc.Transact("local", func(txn *Transaction) {
		text.ApplyDelta(txn, []DeltaOp{{Retain: 5, Attributes: map[string]any{"bold": nil, "italic": true}}})
	})

	keys := text.ActiveFormatKeys()
	hasBold, hasItalic := false, false
	for _, k := range keys {
		if k == "bold" {
			hasBold = true
		}
		if k == "italic" {
			hasItalic = true
		}
	}
	if hasBold {
		t.Fatalf("expected bold to be cleared by nil-valued retain attribute")
	}
	if !hasItalic {
		t.Fatalf("expected italic to be set by retain attribute")
	}
}

func TestToDeltaWithoutSnapshotOmitsDeletedPieces(t *testing.T) {
	doc, text := newAttachedText(t)
	doc.Transact("local", func(txn *Transaction) {
		text.InsertText(txn, 0, "hello world", nil)
	})
	doc.Transact("local", func(txn *Transaction) {
		text.Delete(txn, 5, 6)
	})

	ops := text.ToDelta(nil, nil, nil)
	var rendered string
	for _, op := range ops {
		rendered += op.Insert
	}
	if rendered != "hello" {
		t.Fatalf("expected live-only render 'hello', got %q", rendered)
	}
}

func TestToDeltaWithSnapshotPairAnnotatesAddedAndRemoved(t *testing.T) {
	doc, text := newAttachedText(t)
	doc.Transact("local", func(txn *Transaction) {
		text.InsertText(txn, 0, "hello", nil)
	})
	prev := Snapshot{DeleteSet: doc.DeleteSet(), StateVector: doc.StateVector()}

	doc.Transact("local", func(txn *Transaction) {
		text.Delete(txn, 0, 5)
		text.InsertText(txn, 0, "bye", nil)
	})
	now := Snapshot{DeleteSet: doc.DeleteSet(), StateVector: doc.StateVector()}

	ops := text.ToDelta(&now, &prev, nil)
	var sawAdded, sawRemoved bool
	for _, op := range ops {
		if op.Attributes == nil {
			continue
		}
		change, ok := op.Attributes["ychange"].(map[string]any)
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
		t.Fatalf("expected both added and removed annotations, ops=%+v", ops)
	}
}
