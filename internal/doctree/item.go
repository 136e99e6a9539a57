// Package doctree is a small CRDT tree library: an ordered, replicated tree
// of fragment/element/text nodes addressed by (clientID, clock) item
// identifiers, with tombstone-based deletion and snapshot-bounded historical
// views. It plays the role the host rich-text stack treats as an external
// collaborator: everything in package binding consumes doctree the way it
// would consume any CRDT document library.
package doctree

import (
	"github.com/example/richtext-sync/internal/types"
)

// ItemID identifies a single item (a node or a text insertion) uniquely
// across all replicas.
type ItemID = types.ItemID

// StateVector and DeleteSet bound a historical view of the tree.
type StateVector = types.StateVector
type DeleteSet = types.DeleteSet

// Snapshot pairs a delete set with a state vector, exactly the pair the
// binding's snapshot renderer diffs between.
type Snapshot struct {
	DeleteSet   DeleteSet
	StateVector StateVector
}

// EmptySnapshot is the zero-valued snapshot: nothing has been observed and
// nothing has been deleted. A caller with only one bound of a diff can pass
// it as the prev snapshot.
func EmptySnapshot() Snapshot {
	return Snapshot{DeleteSet: DeleteSet{}, StateVector: StateVector{}}
}

// isVisible reports whether an item is visible under a snapshot. A nil
// snapshot means "live": visible iff not deleted. A non-nil snapshot means
// the item must be causally covered by the snapshot's state vector and must
// not fall in its delete set.
func isVisible(id ItemID, deleted bool, snap *Snapshot) bool {
	if snap == nil {
		return !deleted
	}
	return snap.StateVector.Covers(id) && !snap.DeleteSet.Contains(id)
}
