package binding

import "github.com/example/richtext-sync/internal/richdoc"

// normChild is one item of a normalized editor child list: either a single
// non-text element or a maximal run of contiguous text nodes, mirroring the
// shape CRDT children naturally take (an XmlElement or an XmlText).
type normChild struct {
	element *richdoc.Node
	textRun []*richdoc.Node
}

func (c normChild) isText() bool { return c.textRun != nil }

// normalize walks p's children in order, collapsing any maximal run of
// text nodes into a single list item (§4.5).
func normalize(p *richdoc.Node) []normChild {
	var out []normChild
	var run []*richdoc.Node
	flush := func() {
		if len(run) > 0 {
			out = append(out, normChild{textRun: run})
			run = nil
		}
	}
	for _, c := range p.Content {
		if c.IsText {
			run = append(run, c)
			continue
		}
		flush()
		out = append(out, normChild{element: c})
	}
	flush()
	return out
}

// marksToAttrs maps an editor text node's marks to a CRDT text delta's
// attribute map, excluding the synthetic ychange annotation mark (§4.6).
func marksToAttrs(marks []*richdoc.Mark) map[string]any {
	out := map[string]any{}
	for _, m := range marks {
		if m.TypeName == "ychange" {
			continue
		}
		out[m.TypeName] = m.Attrs
	}
	return out
}
