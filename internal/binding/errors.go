// Package binding implements the bidirectional reconciler between a
// doctree CRDT fragment and a richdoc editor document: the identity map,
// re-entrancy gate, tree/text materializers and reconcilers, snapshot
// renderer, selection bridge, and the controller that wires them to the two
// event sources (editor updates, CRDT deep events).
package binding

import "errors"

// ErrHookUnsupported is returned when a CRDT hook-type node is encountered
// during materialization. Hooks have no editor-side representation; this is
// a fatal configuration error, not a self-healing case.
var ErrHookUnsupported = errors.New("binding: hook-type CRDT nodes are not supported")

// ErrNodeNameMismatch is returned by the tree reconciler when asked to
// reconcile an element against an editor node of a different type name.
// This indicates a programmer error in the caller, never a legitimate
// remote state.
var ErrNodeNameMismatch = errors.New("binding: CRDT element name does not match editor node type")
