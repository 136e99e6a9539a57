package storage

import (
	"context"
	"time"

	"github.com/example/richtext-sync/internal/types"
)

// SnapshotRef records where a full document snapshot was persisted in
// object storage and the WAL position it covers.
type SnapshotRef struct {
	Document   types.DocumentID
	Operation  types.OperationID
	Causality  types.StateVector
	ObjectPath string
	LastLSN    int64
	CreatedAt  time.Time
}

// RecordSnapshot upserts the latest snapshot reference for a document.
func (w *WAL) RecordSnapshot(ctx context.Context, ref SnapshotRef) error {
	return w.retry(ctx, func(ctx context.Context) error {
		causalityBytes, err := jsonMarshal(ref.Causality)
		if err != nil {
			return err
		}
		_, err = w.pool.Exec(ctx, `
                        INSERT INTO document_snapshots (document_id, operation_id, causality, object_path, last_lsn, created_at)
                        VALUES ($1, $2, $3, $4, $5, $6)
                        ON CONFLICT (document_id)
                        DO UPDATE SET operation_id = EXCLUDED.operation_id, causality = EXCLUDED.causality,
                                object_path = EXCLUDED.object_path, last_lsn = EXCLUDED.last_lsn, created_at = EXCLUDED.created_at
                `, ref.Document, ref.Operation, causalityBytes, ref.ObjectPath, ref.LastLSN, ref.CreatedAt)
		return err
	})
}

// LatestSnapshot returns the most recently recorded snapshot reference for
// a document, or a zero-valued ref if none exists yet.
func (w *WAL) LatestSnapshot(ctx context.Context, docID types.DocumentID) (SnapshotRef, error) {
	var ref SnapshotRef
	var causality []byte
	err := w.pool.QueryRow(ctx, `
                SELECT document_id, operation_id, causality, object_path, last_lsn, created_at
                FROM document_snapshots WHERE document_id = $1
        `, docID).Scan(&ref.Document, &ref.Operation, &causality, &ref.ObjectPath, &ref.LastLSN, &ref.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return SnapshotRef{Document: docID}, nil
		}
		return SnapshotRef{}, err
	}
	ref.Causality, err = decodeStateVector(causality)
	return ref, err
}

// SnapshotBeforeLSN returns the latest snapshot ref covering no more than
// lsn. Only the latest snapshot is considered: if it covers more than lsn,
// an empty ref is returned. Used by package playback as its fallback when
// no WAL row exists at or before lsn.
func (w *WAL) SnapshotBeforeLSN(ctx context.Context, docID types.DocumentID, lsn int64) (SnapshotRef, error) {
	latest, err := w.LatestSnapshot(ctx, docID)
	if err != nil {
		return SnapshotRef{}, err
	}
	if latest.LastLSN > lsn {
		return SnapshotRef{Document: docID}, nil
	}
	return latest, nil
}

// MutationCountAfterLSN counts mutation rows for a document beyond lsn, the
// threshold the snapshot worker checks before emitting a new snapshot.
func (w *WAL) MutationCountAfterLSN(ctx context.Context, docID types.DocumentID, lsn int64) (int64, error) {
	var count int64
	err := w.pool.QueryRow(ctx, `
                SELECT count(*) FROM document_mutations WHERE document_id = $1 AND lsn > $2
        `, docID, lsn).Scan(&count)
	return count, err
}

// LatestMutationAtOrBefore returns the most recent full-state mutation
// record for a document whose lsn is at or before the target, or ok=false
// if none exists (e.g. it was compacted away by a recorded snapshot).
func (w *WAL) LatestMutationAtOrBefore(ctx context.Context, docID types.DocumentID, lsn int64) (rec types.MutationRecord, ok bool, err error) {
	var causality []byte
	row := w.pool.QueryRow(ctx, `
                SELECT lsn, operation_id, client_id, causality, payload, created_at
                FROM document_mutations
                WHERE document_id = $1 AND lsn <= $2
                ORDER BY lsn DESC LIMIT 1
        `, docID, lsn)
	var opID, clientID string
	if err = row.Scan(&rec.LSN, &opID, &clientID, &causality, &rec.Payload, &rec.CreatedAt); err != nil {
		if isNoRows(err) {
			return types.MutationRecord{}, false, nil
		}
		return types.MutationRecord{}, false, err
	}
	rec.Document = docID
	rec.Operation = types.OperationID(opID)
	rec.Client = types.ClientID(clientID)
	rec.Causality, err = decodeStateVector(causality)
	return rec, true, err
}

// LSNForOperation looks up the LSN and timestamp of a specific mutation.
func (w *WAL) LSNForOperation(ctx context.Context, docID types.DocumentID, opID types.OperationID) (int64, time.Time, error) {
	var lsn int64
	var createdAt time.Time
	err := w.pool.QueryRow(ctx, `
                SELECT lsn, created_at FROM document_mutations WHERE document_id = $1 AND operation_id = $2
        `, docID, opID).Scan(&lsn, &createdAt)
	return lsn, createdAt, err
}

// LSNForTime looks up the highest LSN recorded at or before ts.
func (w *WAL) LSNForTime(ctx context.Context, docID types.DocumentID, ts time.Time) (int64, error) {
	var lsn int64
	err := w.pool.QueryRow(ctx, `
                SELECT coalesce(max(lsn), 0) FROM document_mutations WHERE document_id = $1 AND created_at <= $2
        `, docID, ts).Scan(&lsn)
	return lsn, err
}
