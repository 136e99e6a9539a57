package binding

import (
	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/richdoc"
)

// ReconcileText diffs a CRDT text type y against an editor text run ps and
// applies the minimum mutation set (C6).
func ReconcileText(txn *doctree.Transaction, y *doctree.Node, ps []*richdoc.Node) {
	currentText := y.PlainText()
	formatKeys := y.ActiveFormatKeys()

	targetAttrs := make([]map[string]any, len(ps))
	var targetText string
	for i, n := range ps {
		attrs := make(map[string]any, len(formatKeys))
		for _, k := range formatKeys {
			attrs[k] = nil
		}
		for k, v := range marksToAttrs(n.Marks) {
			attrs[k] = v
		}
		targetAttrs[i] = attrs
		targetText += n.Text
	}

	index, remove, insert := simpleDiff(currentText, targetText)
	if remove > 0 {
		y.Delete(txn, index, remove)
	}
	if insert != "" {
		y.InsertText(txn, index, insert, nil)
	}

	retains := make([]doctree.DeltaOp, 0, len(ps))
	for i, n := range ps {
		retains = append(retains, doctree.DeltaOp{Retain: len([]rune(n.Text)), Attributes: targetAttrs[i]})
	}
	y.ApplyDelta(txn, retains)
}

// simpleDiff returns the minimal {index, remove, insert} edit that turns a
// into b: the longest common prefix and (non-overlapping) longest common
// suffix bound a single middle region that differs.
func simpleDiff(a, b string) (index, remove int, insert string) {
	ar, br := []rune(a), []rune(b)

	prefix := 0
	for prefix < len(ar) && prefix < len(br) && ar[prefix] == br[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(ar)-prefix && suffix < len(br)-prefix && ar[len(ar)-1-suffix] == br[len(br)-1-suffix] {
		suffix++
	}

	index = prefix
	remove = len(ar) - prefix - suffix
	insert = string(br[prefix : len(br)-suffix])
	return
}
