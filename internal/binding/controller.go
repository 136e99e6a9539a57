package binding

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

// EditorTransaction is what the controller hands back to the host once a
// translation has produced a new editor document to install. IsChangeOrigin
// marks it as one the editor view should not feed back into
// HandleEditorUpdate (it already reflects the CRDT side).
type EditorTransaction struct {
	Doc            *richdoc.Node
	IsChangeOrigin bool
	Selection      *Selection
	Snapshot       *doctree.Snapshot
	PrevSnapshot   *doctree.Snapshot
}

// Options configures a Controller beyond the required doc/fragment/schema
// triple.
type Options struct {
	// RootTypeName is the editor node type the nameless top-level fragment
	// materializes as. Defaults to "doc".
	RootTypeName string

	// PermanentUserData resolves item ids to author identities for
	// snapshot change annotations. Optional; computeChange degrades to
	// {"type": kind} without it.
	PermanentUserData doctree.PermanentUserData

	// Colors seeds the snapshot color palette. Defaults to DefaultColors.
	Colors []ColorPair
	// ColorMapping preseeds specific authors to specific colors.
	ColorMapping map[any]ColorPair
	// Rand supplies the color allocator's randomness. Required whenever an
	// unseen author must pick among more than one palette color, which with
	// a multi-color palette includes the very first author; a nil Rand with
	// only a single-color palette is safe since no choice is made.
	Rand RandSource

	// CaptureSelection returns the editor view's current selection. Nil
	// disables the selection bridge (C8) entirely — fine for headless use.
	CaptureSelection func() Selection

	// Defer schedules f to run after the current unit of work, the hook
	// point §4.1's "next tick" requirement binds to. Nil runs f inline,
	// which is correct for a caller that already serializes its own
	// scheduling (e.g. a single-goroutine-per-document actor).
	Defer func(f func())

	Logger zerolog.Logger
}

// Controller is the per-document binding controller (C9): it owns the
// identity map, gate, and color allocator, and implements the scheduling
// rules that route editor updates and CRDT deep-event batches through the
// reconciler and materializer without either direction echoing the other.
type Controller struct {
	doc      *doctree.Doc
	fragment *doctree.Node
	schema   *richdoc.Schema

	rootTypeName string
	userData     doctree.PermanentUserData
	colors       *ColorAllocator
	capture      func() Selection
	defer_       func(func())
	log          zerolog.Logger

	gate     Gate
	identity *IdentityMap

	snapshot     *doctree.Snapshot
	prevSnapshot *doctree.Snapshot

	pendingSelection *RelativeSelection
	everNonTrivial   bool

	unsubscribe func()
	dispatch    func(EditorTransaction)
}

// NewController wires a Controller around a CRDT fragment and installs its
// before/after-transaction hooks and deep observer. dispatch receives every
// editor-facing replacement this controller produces going forward.
func NewController(doc *doctree.Doc, fragment *doctree.Node, schema *richdoc.Schema, opts Options, dispatch func(EditorTransaction)) *Controller {
	if opts.RootTypeName == "" {
		opts.RootTypeName = "doc"
	}
	if opts.Defer == nil {
		opts.Defer = func(f func()) { f() }
	}

	b := &Controller{
		doc:          doc,
		fragment:     fragment,
		schema:       schema,
		rootTypeName: opts.RootTypeName,
		userData:     opts.PermanentUserData,
		colors:       NewColorAllocator(opts.Colors, opts.ColorMapping, opts.Rand),
		capture:      opts.CaptureSelection,
		defer_:       opts.Defer,
		log:          opts.Logger,
		identity:     NewIdentityMap(),
		dispatch:     dispatch,
	}

	doc.OnBeforeTransaction(b.captureSelectionHook)
	doc.OnAfterTransaction(b.clearSelectionHook)
	b.unsubscribe = fragment.ObserveDeep(b.onDeepEvents)

	return b
}

// IsEditable reports whether the controller is currently rendering the live
// document rather than a historical snapshot (§4.8).
func (b *Controller) IsEditable() bool { return b.snapshot == nil }

func (b *Controller) captureSelectionHook(txn *doctree.Transaction) {
	if b.pendingSelection != nil || b.capture == nil {
		return
	}
	rel := CaptureRelative(b.fragment, b.capture())
	b.pendingSelection = &rel
}

func (b *Controller) clearSelectionHook(txn *doctree.Transaction) {
	b.pendingSelection = nil
}

// HandleEditorUpdate is called on every editor view update (§4.1). size is
// the editor document's child count at the fragment's root; the "more than
// two children" threshold is the heuristic that distinguishes a real first
// edit from the empty-paragraph placeholder most editors start with, so an
// empty CRDT document isn't immediately polluted by the view's initial
// mount.
func (b *Controller) HandleEditorUpdate(editorDoc *richdoc.Node, size int) {
	b.gate.Run(func() {
		if b.snapshot != nil {
			return
		}
		if !b.everNonTrivial && size <= 2 {
			return
		}
		b.everNonTrivial = true

		start := time.Now()
		b.doc.Transact("local", func(txn *doctree.Transaction) {
			if err := ReconcileTree(txn, b.fragment, editorDoc, b.identity); err != nil {
				b.log.Error().Err(err).Msg("editor to crdt reconcile failed")
			}
		})
		reconcileLatency.WithLabelValues("editor-to-crdt").Observe(time.Since(start).Seconds())
	})
}

// onDeepEvents is the fragment's deep observer. It runs gated so the echo
// produced by HandleEditorUpdate's own Transact call (which fires this same
// observer synchronously) is dropped by the already-held gate, while a
// transaction originating elsewhere — a remote op applied by the transport
// layer, a local undo, a snapshot render — passes through and rebuilds the
// affected editor subtree.
func (b *Controller) onDeepEvents(events []doctree.Event, txn *doctree.Transaction) {
	ran := false
	b.gate.Run(func() {
		ran = true
		for _, ev := range events {
			if ev.Deleted || ev.ChildrenChanged || ev.AttrsChanged {
				b.identity.Delete(ev.Node)
			}
		}

		start := time.Now()
		root, err := MaterializeElement(b.fragment, b.rootTypeName, b.schema, b.identity, b.snapshot, b.prevSnapshot, b.computeChange())
		reconcileLatency.WithLabelValues("crdt-to-editor").Observe(time.Since(start).Seconds())
		if err != nil {
			b.log.Error().Err(err).Msg("crdt to editor materialize failed")
			return
		}
		if root == nil {
			return
		}

		var sel *Selection
		if b.pendingSelection != nil {
			if restored, ok := RestoreRelative(b.fragment, *b.pendingSelection); ok {
				sel = &restored
			}
		}
		b.dispatch(EditorTransaction{Doc: root, IsChangeOrigin: true, Selection: sel, Snapshot: b.snapshot, PrevSnapshot: b.prevSnapshot})
	})
	if !ran {
		echoSuppressions.Inc()
	}
}

func (b *Controller) computeChange() ComputeChangeFunc {
	return func(kind string, id doctree.ItemID) any {
		if b.userData == nil {
			return map[string]any{"type": kind}
		}
		var user any
		if b.userData != nil {
			if kind == "added" {
				user = b.userData.GetUserByClientID(id.Client)
			} else {
				user = b.userData.GetUserByDeletedID(id)
			}
		}
		key := any(id.Client)
		if user != nil {
			key = user
		}
		return map[string]any{"type": kind, "user": user, "color": b.colors.ColorFor(key)}
	}
}

// RenderSnapshot switches the controller into historical-view mode,
// materializing the fragment as it stood under snap and annotating every
// item that differs from prev as added or removed (§4.8). Scheduled through
// Options.Defer; with the default Defer it runs inline, before returning.
func (b *Controller) RenderSnapshot(snap, prev doctree.Snapshot) {
	b.defer_(func() {
		b.gate.Run(func() {
			b.identity.Clear()
			b.doc.Transact("render-snapshot", func(txn *doctree.Transaction) {
				b.doc.IterateDeletedStructs(prev, func(id doctree.ItemID) {
					if b.userData != nil {
						b.userData.GetUserByDeletedID(id)
					}
				})
			})

			b.snapshot = &snap
			b.prevSnapshot = &prev

			root, err := MaterializeElement(b.fragment, b.rootTypeName, b.schema, b.identity, b.snapshot, b.prevSnapshot, b.computeChange())
			if err != nil {
				b.log.Error().Err(err).Msg("render snapshot failed")
				return
			}
			if root != nil {
				b.dispatch(EditorTransaction{Doc: root, IsChangeOrigin: true, Snapshot: b.snapshot, PrevSnapshot: b.prevSnapshot})
			}
		})
	})
}

// UnrenderSnapshot returns the controller to live-document mode.
func (b *Controller) UnrenderSnapshot() {
	b.defer_(func() {
		b.gate.Run(func() {
			b.identity.Clear()
			b.snapshot = nil
			b.prevSnapshot = nil

			root, err := MaterializeElement(b.fragment, b.rootTypeName, b.schema, b.identity, nil, nil, nil)
			if err != nil {
				b.log.Error().Err(err).Msg("unrender snapshot failed")
				return
			}
			if root != nil {
				b.dispatch(EditorTransaction{Doc: root, IsChangeOrigin: true})
			}
		})
	})
}

// ForceRerender clears the identity map and rebuilds the editor document
// from the CRDT tree in whatever mode (live or historical) is currently
// active, without changing that mode. Used when the schema itself changes
// underneath an otherwise-unmodified document.
func (b *Controller) ForceRerender() {
	b.gate.Run(func() {
		b.identity.Clear()
		root, err := MaterializeElement(b.fragment, b.rootTypeName, b.schema, b.identity, b.snapshot, b.prevSnapshot, b.computeChange())
		if err != nil {
			b.log.Error().Err(err).Msg("force rerender failed")
			return
		}
		if root != nil {
			b.dispatch(EditorTransaction{Doc: root, IsChangeOrigin: true, Snapshot: b.snapshot, PrevSnapshot: b.prevSnapshot})
		}
	})
}

// Destroy unregisters the deep observer and releases the identity map. The
// controller must not be used afterward.
func (b *Controller) Destroy() {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	b.identity.Clear()
}
