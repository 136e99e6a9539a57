package doctree

import (
	"sync"

	"github.com/example/richtext-sync/internal/types"
)

// PermanentUserData resolves an item's author identity. Implementations
// typically back this with durable per-client metadata, which is why
// lookups by deleted id require the doc to
// have iterated its delete sets at least once (see IterateDeletedStructs).
type PermanentUserData interface {
	GetUserByClientID(client types.ClientID) any
	GetUserByDeletedID(id ItemID) any
}

// Transaction batches a set of mutations against a Doc. All container and
// text mutation methods in this package require one; a Doc.Transact call
// supplies it and fires before/after hooks and the deep-observer batch
// around it.
type Transaction struct {
	doc    *Doc
	Origin any

	changedParents map[*Node]struct{}
	deletedNodes   map[*Node]struct{}
	attrsChanged   map[*Node]struct{}
	order          []*Node // preserves first-touched order for deterministic event batches
}

func newTransaction(doc *Doc, origin any) *Transaction {
	return &Transaction{
		doc:            doc,
		Origin:         origin,
		changedParents: map[*Node]struct{}{},
		deletedNodes:   map[*Node]struct{}{},
		attrsChanged:   map[*Node]struct{}{},
	}
}

func (t *Transaction) touch(n *Node) {
	if !t.seen(n) {
		t.order = append(t.order, n)
	}
}

func (t *Transaction) seen(n *Node) bool {
	_, a := t.changedParents[n]
	_, b := t.deletedNodes[n]
	_, c := t.attrsChanged[n]
	return a || b || c
}

func (t *Transaction) markChildrenChanged(n *Node) {
	t.touch(n)
	t.changedParents[n] = struct{}{}
}

func (t *Transaction) markAttrsChanged(n *Node) {
	t.touch(n)
	t.attrsChanged[n] = struct{}{}
}

func (t *Transaction) markDeleted(n *Node) {
	t.touch(n)
	t.deletedNodes[n] = struct{}{}
}

// Doc owns the tree's top-level shared types, the local client's clock, and
// the causal metadata (state vector, delete set) needed for snapshots and
// relative positions.
type Doc struct {
	mu sync.Mutex

	ClientID types.ClientID
	clock    uint64

	stateVector types.StateVector
	deleteSet   types.DeleteSet

	topLevel map[string]*Node

	beforeTxn []func(*Transaction)
	afterTxn  []func(*Transaction)

	deepObservers map[*Node][]DeepObserver

	PermanentUserData PermanentUserData
}

// NewDoc constructs an empty document owned by clientID.
func NewDoc(clientID types.ClientID) *Doc {
	return &Doc{
		ClientID:      clientID,
		stateVector:   types.StateVector{},
		deleteSet:     types.DeleteSet{},
		topLevel:      map[string]*Node{},
		deepObservers: map[*Node][]DeepObserver{},
	}
}

func (d *Doc) nextID() ItemID {
	d.clock++
	id := ItemID{Client: d.ClientID, Clock: d.clock}
	d.stateVector[d.ClientID] = d.clock
	return id
}

// GetXmlFragment returns the named top-level fragment, creating it empty on
// first access — the role `ydoc.getXmlFragment(name)` plays for the editor
// plugin shell.
func (d *Doc) GetXmlFragment(name string) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.topLevel[name]; ok {
		return f
	}
	f := NewFragment()
	f.doc = d
	f.ID = d.nextID()
	d.topLevel[name] = f
	return f
}

// StateVector returns a copy of the document's current state vector.
func (d *Doc) StateVector() types.StateVector { return d.stateVector.Clone() }

// DeleteSet returns a copy of the document's current delete set.
func (d *Doc) DeleteSet() types.DeleteSet { return d.deleteSet.Clone() }

// OnBeforeTransaction registers a hook run synchronously before the body of
// every Transact call.
func (d *Doc) OnBeforeTransaction(fn func(*Transaction)) {
	d.beforeTxn = append(d.beforeTxn, fn)
}

// OnAfterTransaction registers a hook run synchronously after the body and
// after deep-observer dispatch.
func (d *Doc) OnAfterTransaction(fn func(*Transaction)) {
	d.afterTxn = append(d.afterTxn, fn)
}

// Transact runs fn inside a single transaction, then dispatches deep-event
// batches to every fragment/element with a registered deep observer whose
// subtree was touched, then fires afterTransaction hooks. One call is one
// atomic unit of causality: exactly one batch per root observer, matching
// §5's remote-batch atomicity guarantee.
func (d *Doc) Transact(origin any, fn func(txn *Transaction)) {
	txn := newTransaction(d, origin)
	for _, hook := range d.beforeTxn {
		hook(txn)
	}

	fn(txn)

	d.dispatchDeepEvents(txn)

	for _, hook := range d.afterTxn {
		hook(txn)
	}
}

// IterateDeletedStructs calls fn once for every item id in snap's delete
// set, the walk the snapshot renderer's PermanentUserData lookups rely on
// (§4.8). In this in-memory tree the delete set is already eagerly
// populated, so nothing is hydrated from storage along the way.
func (d *Doc) IterateDeletedStructs(snap Snapshot, fn func(id ItemID)) {
	for client, ranges := range snap.DeleteSet {
		for _, r := range ranges {
			for clock := r.Start; clock < r.Start+r.Len; clock++ {
				fn(ItemID{Client: client, Clock: clock})
			}
		}
	}
}
