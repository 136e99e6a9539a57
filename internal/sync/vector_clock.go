package syncstate

import (
	"sync"

	"github.com/example/richtext-sync/internal/types"
)

// VectorClockTracker maintains per-document causal state vectors. Local
// mutations call BumpLocal before emission; remote mutations call
// MergeRemote to fold in the causality stamp carried on their
// MutationRecord.
type VectorClockTracker struct {
	mu    sync.RWMutex
	clock map[types.DocumentID]types.StateVector
}

// NewVectorClockTracker constructs an empty tracker.
func NewVectorClockTracker() *VectorClockTracker {
	return &VectorClockTracker{
		clock: make(map[types.DocumentID]types.StateVector),
	}
}

// BumpLocal increments the state vector for the provided client/document
// pair and returns the updated snapshot suitable for attaching to a new
// outbound MutationRecord's Causality field.
func (t *VectorClockTracker) BumpLocal(docID types.DocumentID, client types.ClientID) types.StateVector {
	t.mu.Lock()
	defer t.mu.Unlock()

	clock := t.ensure(docID)
	clock.Bump(client)

	return clock.Clone()
}

// MergeRemote merges a remote state vector into the document's tracked
// state and returns the updated snapshot.
func (t *VectorClockTracker) MergeRemote(docID types.DocumentID, other types.StateVector) types.StateVector {
	t.mu.Lock()
	defer t.mu.Unlock()

	clock := t.ensure(docID)
	clock.Merge(other)
	t.clock[docID] = clock

	return clock.Clone()
}

// Snapshot returns a copy of the current state vector for the document.
func (t *VectorClockTracker) Snapshot(docID types.DocumentID) types.StateVector {
	t.mu.RLock()
	defer t.mu.RUnlock()

	clock := t.clock[docID]
	if clock == nil {
		return make(types.StateVector)
	}
	return clock.Clone()
}

// Dominates reports whether the current clock for the document covers the
// provided state vector, meaning every client's counter is at least as high.
func (t *VectorClockTracker) Dominates(docID types.DocumentID, other types.StateVector) bool {
	t.mu.RLock()
	clock := t.clock[docID]
	t.mu.RUnlock()

	if clock == nil {
		return len(other) == 0
	}
	return clock.Dominates(other)
}

func (t *VectorClockTracker) ensure(docID types.DocumentID) types.StateVector {
	clock := t.clock[docID]
	if clock == nil {
		clock = make(types.StateVector)
		t.clock[docID] = clock
	}
	return clock
}
