package playback

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/storage"
	"github.com/example/richtext-sync/internal/types"
)

type fakeLog struct {
	mutations []types.MutationRecord
	snapshots map[int64]storage.SnapshotRef
}

func (f *fakeLog) LSNForOperation(_ context.Context, docID types.DocumentID, opID types.OperationID) (int64, time.Time, error) {
	for _, m := range f.mutations {
		if m.Document == docID && m.Operation == opID {
			return m.LSN, m.CreatedAt, nil
		}
	}
	return 0, time.Time{}, errors.New("operation not found")
}

func (f *fakeLog) LSNForTime(_ context.Context, docID types.DocumentID, ts time.Time) (int64, error) {
	var lsn int64
	for _, m := range f.mutations {
		if m.Document != docID || m.CreatedAt.After(ts) {
			continue
		}
		if m.LSN > lsn {
			lsn = m.LSN
		}
	}
	return lsn, nil
}

func (f *fakeLog) SnapshotBeforeLSN(_ context.Context, docID types.DocumentID, lsn int64) (storage.SnapshotRef, error) {
	var best storage.SnapshotRef
	for _, ref := range f.snapshots {
		if ref.Document != docID || ref.LastLSN > lsn {
			continue
		}
		if ref.LastLSN > best.LastLSN {
			best = ref
		}
	}
	return best, nil
}

func (f *fakeLog) LatestMutationAtOrBefore(_ context.Context, docID types.DocumentID, lsn int64) (types.MutationRecord, bool, error) {
	var best types.MutationRecord
	found := false
	for _, m := range f.mutations {
		if m.Document != docID || m.LSN > lsn {
			continue
		}
		if !found || m.LSN > best.LSN {
			best = m
			found = true
		}
	}
	return best, found, nil
}

func encodedDoc(t *testing.T, text string) []byte {
	t.Helper()
	doc := doctree.NewDoc("site")
	frag := doc.GetXmlFragment("default")
	xt := doctree.NewText()
	doc.Transact("seed", func(txn *doctree.Transaction) {
		frag.Insert(txn, 0, xt)
		xt.InsertText(txn, 0, text, nil)
	})
	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func mutationRecord(lsn int64, op string, docID types.DocumentID, client string, ts time.Time, text string) types.MutationRecord {
	return types.MutationRecord{
		LSN:       lsn,
		Operation: types.OperationID(op),
		Document:  docID,
		Client:    types.ClientID(client),
		Payload:   nil, // filled by caller via encodedDocBytes when needed
		CreatedAt: ts,
	}
}

func TestPlaybackPicksNearestMutationAtOrBeforeTarget(t *testing.T) {
	docID := types.DocumentID("doc-1")
	base := time.Now()

	early := mutationRecord(1, "op-1", docID, "alice", base, "H")
	early.Payload = encodedDoc(t, "H")
	later := mutationRecord(2, "op-2", docID, "bob", base.Add(time.Minute), "Hi")
	later.Payload = encodedDoc(t, "Hi")

	log := &fakeLog{mutations: []types.MutationRecord{early, later}, snapshots: map[int64]storage.SnapshotRef{}}
	svc := NewService(log, "", MemoryLoader{}, zeroLogger(), ServiceConfig{CacheSize: 4})

	resp, err := svc.Playback(context.Background(), Request{Document: docID, OperationID: "op-1"})
	if err != nil {
		t.Fatalf("playback err: %v", err)
	}
	if resp.LSN != 1 {
		t.Fatalf("expected lsn 1, got %d", resp.LSN)
	}

	doc, err := doctree.DecodeDoc(resp.Buffer)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := doc.GetXmlFragment("default").ToArray()[0].PlainText(); got != "H" {
		t.Fatalf("expected %q, got %q", "H", got)
	}
}

func TestPlaybackFallsBackToObjectStorageSnapshot(t *testing.T) {
	docID := types.DocumentID("doc-2")
	base := time.Now()

	snapBytes := encodedDoc(t, "OK")

	log := &fakeLog{
		mutations: nil,
		snapshots: map[int64]storage.SnapshotRef{
			2: {Document: docID, ObjectPath: "snap.bin", LastLSN: 2, CreatedAt: base},
		},
	}
	loader := MemoryLoader{Objects: map[string][]byte{"snap.bin": snapBytes}}
	svc := NewService(log, "bucket", loader, zeroLogger(), ServiceConfig{CacheSize: 2})

	resp, err := svc.Playback(context.Background(), Request{Document: docID, AtTime: ptrTime(base.Add(time.Hour))})
	if err != nil {
		t.Fatalf("playback err: %v", err)
	}
	if resp.LSN != 2 {
		t.Fatalf("expected lsn 2, got %d", resp.LSN)
	}
}

func TestPlaybackHydratesPrevCursorForDiffRender(t *testing.T) {
	docID := types.DocumentID("doc-3")
	base := time.Now()

	before := mutationRecord(1, "op-a", docID, "alice", base, "H")
	before.Payload = encodedDoc(t, "H")
	after := mutationRecord(2, "op-b", docID, "alice", base.Add(time.Minute), "Hi")
	after.Payload = encodedDoc(t, "Hi")

	log := &fakeLog{mutations: []types.MutationRecord{before, after}, snapshots: map[int64]storage.SnapshotRef{}}
	svc := NewService(log, "", MemoryLoader{}, zeroLogger(), ServiceConfig{CacheSize: 4})

	resp, err := svc.Playback(context.Background(), Request{
		Document:        docID,
		OperationID:     "op-b",
		PrevOperationID: "op-a",
	})
	if err != nil {
		t.Fatalf("playback err: %v", err)
	}
	if resp.LSN != 2 || resp.PrevLSN != 1 {
		t.Fatalf("expected lsn=2 prev=1, got lsn=%d prev=%d", resp.LSN, resp.PrevLSN)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func zeroLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
