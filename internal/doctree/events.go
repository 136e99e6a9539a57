package doctree

// Event describes one changed or deleted node inside a transaction's deep
// event batch, the unit package binding's C9 invalidates identity-map
// entries against.
type Event struct {
	Node            *Node
	Deleted         bool
	ChildrenChanged bool
	AttrsChanged    bool
}

// DeepObserver receives every transaction's batch of events for the
// subtree rooted at the node it was registered on.
type DeepObserver func(events []Event, txn *Transaction)

// ObserveDeep registers fn to run once per transaction that touches this
// node's subtree, with one batch covering every change in that
// transaction. Returns an unsubscribe function.
func (n *Node) ObserveDeep(fn DeepObserver) func() {
	if n.doc == nil {
		panic("doctree: ObserveDeep on a node not attached to a document")
	}
	d := n.doc
	d.deepObservers[n] = append(d.deepObservers[n], fn)
	idx := len(d.deepObservers[n]) - 1
	return func() {
		obs := d.deepObservers[n]
		if idx < len(obs) {
			d.deepObservers[n] = append(obs[:idx], obs[idx+1:]...)
		}
	}
}

// isDescendantOf reports whether n is root or a descendant of root.
func isDescendantOf(n, root *Node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == root {
			return true
		}
	}
	return false
}

func (d *Doc) dispatchDeepEvents(txn *Transaction) {
	if len(txn.order) == 0 {
		return
	}
	events := make([]Event, 0, len(txn.order))
	for _, n := range txn.order {
		_, deleted := txn.deletedNodes[n]
		_, children := txn.changedParents[n]
		_, attrs := txn.attrsChanged[n]
		events = append(events, Event{Node: n, Deleted: deleted, ChildrenChanged: children, AttrsChanged: attrs})
	}
	for root, observers := range d.deepObservers {
		var batch []Event
		for _, ev := range events {
			if isDescendantOf(ev.Node, root) {
				batch = append(batch, ev)
			}
		}
		if len(batch) == 0 {
			continue
		}
		for _, obs := range observers {
			obs(batch, txn)
		}
	}
}
