// Package docregistry holds the set of documents a server instance
// currently keeps live in memory, each as a *doctree.Doc. It is the
// in-process counterpart to internal/storage's durable WAL: the registry is
// what cmd/server and internal/snapshotstore reach into to find (or lazily
// create) a document's live tree.
package docregistry

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/types"
)

// Registry maps document ids to their live doctree.Doc and tracks the
// highest WAL position applied to each, the role internal/crdt.Engine
// played for the flat-sequence model this module generalizes from.
type Registry struct {
	mu      sync.RWMutex
	siteID  types.ClientID
	docs    map[types.DocumentID]*doctree.Doc
	lastLSN map[types.DocumentID]int64
	logger  zerolog.Logger
}

// NewRegistry constructs a Registry. siteID seeds the ClientID assigned to
// documents created locally (e.g. hydrated fresh with no prior state).
func NewRegistry(siteID types.ClientID, logger zerolog.Logger) *Registry {
	return &Registry{
		siteID:  siteID,
		docs:    make(map[types.DocumentID]*doctree.Doc),
		lastLSN: make(map[types.DocumentID]int64),
		logger:  logger,
	}
}

// Doc returns the live document, creating an empty one under this
// registry's site id if it isn't already loaded.
func (r *Registry) Doc(docID types.DocumentID) *doctree.Doc {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[docID]
	if ok {
		return doc
	}
	doc = doctree.NewDoc(r.siteID)
	r.docs[docID] = doc
	return doc
}

// Install replaces a document's in-memory state, e.g. after hydrating it
// from a playback snapshot on first load.
func (r *Registry) Install(docID types.DocumentID, doc *doctree.Doc, lastLSN int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[docID] = doc
	r.lastLSN[docID] = lastLSN
}

// LastLSN returns the highest WAL position applied to a document.
func (r *Registry) LastLSN(docID types.DocumentID) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastLSN[docID]
}

// AdvanceLSN records that a document's in-memory state now reflects lsn.
func (r *Registry) AdvanceLSN(docID types.DocumentID, lsn int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lsn > r.lastLSN[docID] {
		r.lastLSN[docID] = lsn
	}
}

// Documents returns the ids of every document currently loaded in memory.
func (r *Registry) Documents() []types.DocumentID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := make([]types.DocumentID, 0, len(r.docs))
	for docID := range r.docs {
		docs = append(docs, docID)
	}
	return docs
}

// Evict drops a document from memory, e.g. after an idle timeout. The next
// Doc call rehydrates or recreates it.
func (r *Registry) Evict(docID types.DocumentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, docID)
	delete(r.lastLSN, docID)
}
