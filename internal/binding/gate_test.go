package binding

import "testing"

func TestGateRunsWhenNotHeld(t *testing.T) {
	var g Gate
	ran := false
	g.Run(func() { ran = true })
	if !ran {
		t.Fatalf("expected Run to invoke f when the gate is free")
	}
	if g.Held() {
		t.Fatalf("expected the gate to release after Run returns")
	}
}

func TestGateDropsNestedCallWhileHeld(t *testing.T) {
	var g Gate
	inner := false
	g.Run(func() {
		if !g.Held() {
			t.Fatalf("expected Held() to report true inside Run's callback")
		}
		g.Run(func() { inner = true })
	})
	if inner {
		t.Fatalf("expected a nested Run call to be dropped, not executed")
	}
}

func TestGateReleasesOnPanic(t *testing.T) {
	var g Gate
	func() {
		defer func() { recover() }()
		g.Run(func() { panic("boom") })
	}()
	if g.Held() {
		t.Fatalf("expected the gate to release even after a panic inside f")
	}
}
