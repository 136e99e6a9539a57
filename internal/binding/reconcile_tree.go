package binding

import (
	"reflect"

	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

// ReconcileTree diffs an editor node P against a CRDT fragment/element Y
// and applies the minimum mutation set to Y so that Y converges on P's
// structure (C5). Y must be a fragment, or an element whose name already
// equals P's type name; any other pairing is a programmer error.
func ReconcileTree(txn *doctree.Transaction, y *doctree.Node, p *richdoc.Node, m *IdentityMap) error {
	if y.Kind != doctree.KindFragment && !nameMatches(y, p) {
		return ErrNodeNameMismatch
	}

	m.SetElement(y, p)

	if y.Kind == doctree.KindElement {
		reconcileAttrs(txn, y, p)
	}

	yChildren := y.ToArray()
	pChildren := normalize(p)
	ny, np := len(yChildren), len(pChildren)

	left := 0
	for left < minInt(ny, np) {
		identity := matchesIdentity(m, yChildren[left], pChildren[left])
		if identity || equalTypeNode(yChildren[left], pChildren[left]) {
			if !identity {
				updateMapping(m, yChildren[left], pChildren[left])
			}
			left++
			continue
		}
		break
	}

	right := 0
	for left+right+1 < minInt(ny, np) {
		yi, pi := ny-1-right, np-1-right
		identity := matchesIdentity(m, yChildren[yi], pChildren[pi])
		if identity || equalTypeNode(yChildren[yi], pChildren[pi]) {
			if !identity {
				updateMapping(m, yChildren[yi], pChildren[pi])
			}
			right++
			continue
		}
		break
	}

	doc := y.Doc()

	for left < ny-right && left < np-right {
		yc, pc := yChildren[left], pChildren[left]

		if yc.Kind == doctree.KindText && pc.isText() {
			if !equalText(yc, pc.textRun) {
				ReconcileText(txn, yc, pc.textRun)
			}
			m.SetTextRun(yc, pc.textRun)
			left++
			continue
		}

		rightYIdx, rightPIdx := ny-1-right, np-1-right
		yr, pr := yChildren[rightYIdx], pChildren[rightPIdx]

		updL := yc.Kind == doctree.KindElement && !pc.isText() && nameMatches(yc, pc.element)
		updR := yr.Kind == doctree.KindElement && !pr.isText() && nameMatches(yr, pr.element)

		switch {
		case updL && updR:
			eqL, foundL := childEqualityFactor(m, yc, pc.element)
			eqR, foundR := childEqualityFactor(m, yr, pr.element)
			if preferRight(foundL, eqL, foundR, eqR) {
				if err := ReconcileTree(txn, yr, pr.element, m); err != nil {
					return err
				}
				right++
			} else {
				if err := ReconcileTree(txn, yc, pc.element, m); err != nil {
					return err
				}
				left++
			}
		case updL:
			if err := ReconcileTree(txn, yc, pc.element, m); err != nil {
				return err
			}
			left++
		case updR:
			if err := ReconcileTree(txn, yr, pr.element, m); err != nil {
				return err
			}
			right++
		default:
			y.DeleteRange(txn, left, 1)
			built := buildChild(doc, txn, pc, m)
			y.Insert(txn, left, built)
			left++
		}
	}

	remainingY := ny - right - left
	remainingP := np - right - left
	if remainingY > 0 {
		y.DeleteRange(txn, left, remainingY)
	}
	if remainingP > 0 {
		built := make([]*doctree.Node, 0, remainingP)
		for i := left; i < left+remainingP; i++ {
			built = append(built, buildChild(doc, txn, pChildren[i], m))
		}
		y.Insert(txn, left, built...)
	}

	return nil
}

func buildChild(doc *doctree.Doc, txn *doctree.Transaction, c normChild, m *IdentityMap) *doctree.Node {
	if c.isText() {
		return buildFromTextRun(doc, txn, c.textRun, m)
	}
	return buildFromElement(doc, txn, c.element, m)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func reconcileAttrs(txn *doctree.Transaction, y *doctree.Node, p *richdoc.Node) {
	current := y.GetAttributes(nil)
	for k, v := range p.Attrs {
		if k == "ychange" || v == nil {
			continue
		}
		if cur, ok := current[k]; !ok || !reflect.DeepEqual(cur, v) {
			y.SetAttribute(txn, k, v)
		}
	}
	for k := range current {
		if pv, ok := p.Attrs[k]; !ok || pv == nil {
			y.RemoveAttribute(txn, k)
		}
	}
}

// childEqualityFactor implements the child-equality factor the middle
// rewrite's tie-break (§4.5) scores a candidate element pair by: scanning
// from the left and from the right of (y's children, p's normalized
// children) independently, counting agreeing positions until the first
// mismatch on each side.
func childEqualityFactor(m *IdentityMap, yCand *doctree.Node, pCand *richdoc.Node) (factor int, foundMapped bool) {
	if yCand.Kind != doctree.KindElement {
		return 0, false
	}
	yc := yCand.ToArray()
	pc := normalize(pCand)
	n := minInt(len(yc), len(pc))

	leftMatches := 0
	for i := 0; i < n; i++ {
		if matchesIdentity(m, yc[i], pc[i]) {
			foundMapped = true
			leftMatches++
		} else if equalTypeNode(yc[i], pc[i]) {
			leftMatches++
		} else {
			break
		}
	}

	rightMatches := 0
	for i := 0; i < n; i++ {
		yi, pi := len(yc)-1-i, len(pc)-1-i
		if matchesIdentity(m, yc[yi], pc[pi]) {
			foundMapped = true
			rightMatches++
		} else if equalTypeNode(yc[yi], pc[pi]) {
			rightMatches++
		} else {
			break
		}
	}

	return leftMatches + rightMatches, foundMapped
}

// preferRight implements the tie-break §4.5/§9 specifies: prefer whichever
// side found an identity-mapped child; otherwise the larger equality
// factor; on a full tie, prefer the right side (the source's bias,
// preserved per the open design question in §9).
func preferRight(foundL bool, eqL int, foundR bool, eqR int) bool {
	if foundL != foundR {
		return foundR
	}
	if eqL != eqR {
		return eqR > eqL
	}
	return true
}
