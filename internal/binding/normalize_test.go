package binding

import (
	"testing"

	"github.com/example/richtext-sync/internal/richdoc"
)

func TestNormalizeCollapsesContiguousTextRuns(t *testing.T) {
	p := &richdoc.Node{TypeName: "paragraph", Content: []*richdoc.Node{
		{IsText: true, Text: "a"},
		{IsText: true, Text: "b"},
		{TypeName: "image"},
		{IsText: true, Text: "c"},
	}}

	got := normalize(p)
	if len(got) != 3 {
		t.Fatalf("expected 3 normalized children (a text run, the image element, a trailing text run), got %d", len(got))
	}
	if !got[0].isText() || len(got[0].textRun) != 2 {
		t.Fatalf("expected the first normalized child to be a 2-node text run, got %+v", got[0])
	}
	if got[1].isText() || got[1].element.TypeName != "image" {
		t.Fatalf("expected the second normalized child to be the image element, got %+v", got[1])
	}
}

func TestNormalizeEmptyContentProducesNoChildren(t *testing.T) {
	p := &richdoc.Node{TypeName: "paragraph"}
	if got := normalize(p); len(got) != 0 {
		t.Fatalf("expected no normalized children for an empty node, got %v", got)
	}
}

func TestMarksToAttrsExcludesYchangeMark(t *testing.T) {
	marks := []*richdoc.Mark{
		{TypeName: "bold"},
		{TypeName: "ychange", Attrs: map[string]any{"type": "added"}},
	}
	attrs := marksToAttrs(marks)
	if _, ok := attrs["ychange"]; ok {
		t.Fatalf("expected ychange to be excluded from CRDT-facing attrs, got %v", attrs)
	}
	if _, ok := attrs["bold"]; !ok {
		t.Fatalf("expected bold to be present in the converted attrs, got %v", attrs)
	}
}
