package binding

import (
	"reflect"

	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

func dropNulls(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if k == "ychange" || v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// equalAttrs compares two attribute maps after dropping null values and the
// ychange key, by structural equality.
func equalAttrs(a, b map[string]any) bool {
	na, nb := dropNulls(a), dropNulls(b)
	if len(na) != len(nb) {
		return false
	}
	for k, v := range na {
		if !reflect.DeepEqual(v, nb[k]) {
			return false
		}
	}
	return true
}

// equalText compares a CRDT text type's live content against an editor
// text run, index-wise: equal insert strings and equal attrs per mark.
func equalText(yText *doctree.Node, pTexts []*richdoc.Node) bool {
	delta := yText.ToDelta(nil, nil, nil)
	if len(delta) != len(pTexts) {
		return false
	}
	for i, op := range delta {
		if op.Insert != pTexts[i].Text {
			return false
		}
		marks := nonChangeMarks(pTexts[i].Marks)
		if len(marks) != len(op.Attributes) {
			return false
		}
		for _, mk := range marks {
			av, ok := op.Attributes[mk.TypeName]
			if !ok {
				av = map[string]any{}
			}
			if !equalAttrs(attrsAsMap(av), mk.Attrs) {
				return false
			}
		}
	}
	return true
}

func nonChangeMarks(marks []*richdoc.Mark) []*richdoc.Mark {
	out := make([]*richdoc.Mark, 0, len(marks))
	for _, m := range marks {
		if m.TypeName != "ychange" {
			out = append(out, m)
		}
	}
	return out
}

func nameMatches(y *doctree.Node, el *richdoc.Node) bool {
	return y.Kind == doctree.KindElement && y.Name == el.TypeName
}

// equalTypeNode is equalTypeNode from §4.5: dispatches on the CRDT/editor
// pair and recurses structurally with no mapping lookups.
func equalTypeNode(y *doctree.Node, p normChild) bool {
	if p.isText() {
		return y.Kind == doctree.KindText && equalText(y, p.textRun)
	}
	if !nameMatches(y, p.element) {
		return false
	}
	yChildren := y.ToArray()
	pChildren := normalize(p.element)
	if len(yChildren) != len(pChildren) {
		return false
	}
	if !equalAttrs(y.GetAttributes(nil), p.element.Attrs) {
		return false
	}
	for i := range yChildren {
		if !equalTypeNode(yChildren[i], pChildren[i]) {
			return false
		}
	}
	return true
}

func matchesIdentity(m *IdentityMap, y *doctree.Node, p normChild) bool {
	if p.isText() {
		run, ok := m.GetTextRun(y)
		return mappedIdentityTextRun(run, ok, p.textRun)
	}
	node, ok := m.GetElement(y)
	return mappedIdentityElement(node, ok, p.element)
}

func updateMapping(m *IdentityMap, y *doctree.Node, p normChild) {
	if p.isText() {
		m.SetTextRun(y, p.textRun)
	} else {
		m.SetElement(y, p.element)
	}
}
