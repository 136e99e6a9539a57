package doctree

import (
	"encoding/json"

	"github.com/example/richtext-sync/internal/types"
)

// wireNode is the JSON-serializable form of a single tree node. Attrs and
// Pieces are populated only for the node kinds that carry them.
type wireNode struct {
	ID       ItemID          `json:"id"`
	Kind     NodeKind        `json:"kind"`
	Name     string          `json:"name,omitempty"`
	Deleted  bool            `json:"deleted,omitempty"`
	Attrs    map[string]any  `json:"attrs,omitempty"`
	Children []wireNode      `json:"children,omitempty"`
	Pieces   []wireTextPiece `json:"pieces,omitempty"`
}

type wireTextPiece struct {
	ID      ItemID         `json:"id"`
	Content string         `json:"content"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Deleted bool           `json:"deleted,omitempty"`
}

type wireDoc struct {
	ClientID    types.ClientID      `json:"client_id"`
	Clock       uint64              `json:"clock"`
	StateVector StateVector         `json:"state_vector"`
	DeleteSet   DeleteSet           `json:"delete_set"`
	TopLevel    map[string]wireNode `json:"top_level"`
}

func toWire(n *Node) wireNode {
	w := wireNode{ID: n.ID, Kind: n.Kind, Name: n.Name, Deleted: n.deleted}
	if n.Kind == KindElement {
		w.Attrs = n.attrs
	}
	for _, c := range n.children {
		w.Children = append(w.Children, toWire(c))
	}
	for _, p := range n.pieces {
		w.Pieces = append(w.Pieces, wireTextPiece{ID: p.id, Content: p.content, Attrs: p.attrs, Deleted: p.deleted})
	}
	return w
}

func fromWire(w wireNode, doc *Doc, parent *Node) *Node {
	n := &Node{ID: w.ID, Kind: w.Kind, Name: w.Name, deleted: w.Deleted, doc: doc, parent: parent}
	if w.Attrs != nil {
		n.attrs = w.Attrs
	} else if n.Kind == KindElement {
		n.attrs = map[string]any{}
	}
	for _, cw := range w.Children {
		n.children = append(n.children, fromWire(cw, doc, n))
	}
	for _, pw := range w.Pieces {
		n.pieces = append(n.pieces, &textPiece{id: pw.ID, content: pw.Content, attrs: pw.Attrs, deleted: pw.Deleted})
	}
	return n
}

// Encode serializes the full document — every top-level fragment, its
// descendants, the state vector and delete set, and the local client's
// clock — to JSON. This is the WAL/object-storage wire format: rather than
// a minimal structural delta, each persisted mutation and periodic
// snapshot carries the complete post-mutation state, trading storage
// efficiency for a playback path with no incremental-apply logic to get
// wrong (see DESIGN.md).
func (d *Doc) Encode() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := wireDoc{
		ClientID:    d.ClientID,
		Clock:       d.clock,
		StateVector: d.stateVector.Clone(),
		DeleteSet:   d.deleteSet.Clone(),
		TopLevel:    make(map[string]wireNode, len(d.topLevel)),
	}
	for name, frag := range d.topLevel {
		w.TopLevel[name] = toWire(frag)
	}
	return json.Marshal(w)
}

// DecodeDoc reconstructs a Doc from the JSON produced by Encode. The
// resulting document has no PermanentUserData or transaction hooks
// installed; callers that need them attach them after decoding.
func DecodeDoc(data []byte) (*Doc, error) {
	var w wireDoc
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	d := &Doc{
		ClientID:      w.ClientID,
		clock:         w.Clock,
		stateVector:   w.StateVector,
		deleteSet:     w.DeleteSet,
		topLevel:      make(map[string]*Node, len(w.TopLevel)),
		deepObservers: map[*Node][]DeepObserver{},
	}
	if d.stateVector == nil {
		d.stateVector = StateVector{}
	}
	if d.deleteSet == nil {
		d.deleteSet = DeleteSet{}
	}
	for name, nw := range w.TopLevel {
		n := fromWire(nw, d, nil)
		d.topLevel[name] = n
	}
	return d, nil
}
