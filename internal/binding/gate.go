package binding

// Gate is the re-entrancy gate (C2): a per-binding, single-owner,
// non-queuing mutex that breaks the echo cycle between the editor→CRDT and
// CRDT→editor translation paths. Run(f) calls f only when the gate is not
// already held; a nested or concurrent Run call while held simply drops its
// f. Because the host scheduling model is single-threaded cooperative (§5),
// no synchronization beyond a plain flag is needed or correct to add: a
// mutex would deadlock the very nested-call case the gate exists to permit.
type Gate struct {
	held bool
}

// Run invokes f exactly when the gate is not held, guaranteeing release on
// every exit path including a panic inside f.
func (g *Gate) Run(f func()) {
	if g.held {
		return
	}
	g.held = true
	defer func() { g.held = false }()
	f()
}

// Held reports whether the gate is currently owned. Exposed for tests and
// for callers that need to assert they're running inside a gated region.
func (g *Gate) Held() bool {
	return g.held
}
