// Package snapshotstore periodically persists full doctree.Doc snapshots to
// object storage, giving package playback a bounded-depth WAL scan and
// giving the WAL table a compaction point.
package snapshotstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/example/richtext-sync/internal/docregistry"
	"github.com/example/richtext-sync/internal/storage"
	"github.com/example/richtext-sync/internal/types"
)

const (
	defaultInterval         = 15 * time.Second
	defaultMutationThreshold = int64(500)
)

// Worker periodically inspects per-document mutation volume and emits a
// full document snapshot to object storage when the threshold is exceeded.
type Worker struct {
	wal      *storage.WAL
	registry *docregistry.Registry
	object   *minio.Client
	bucket   string

	interval          time.Duration
	mutationThreshold int64

	logger zerolog.Logger
}

// NewWorker constructs a snapshot worker with sane defaults.
func NewWorker(wal *storage.WAL, registry *docregistry.Registry, object *minio.Client, bucket string, logger zerolog.Logger) *Worker {
	return &Worker{
		wal:               wal,
		registry:          registry,
		object:            object,
		bucket:            bucket,
		interval:          defaultInterval,
		mutationThreshold: defaultMutationThreshold,
		logger:            logger,
	}
}

// Start begins the periodic snapshot loop.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	w.registry.Observe()
	for _, docID := range w.registry.Documents() {
		if err := w.processDocument(ctx, docID); err != nil {
			w.logger.Error().Err(err).Str("document", string(docID)).Msg("snapshot emission failed")
		}
	}
}

func (w *Worker) processDocument(ctx context.Context, docID types.DocumentID) error {
	if w.object == nil {
		return fmt.Errorf("object storage client not configured")
	}

	latest, err := w.wal.LatestSnapshot(ctx, docID)
	if err != nil {
		return fmt.Errorf("lookup latest snapshot: %w", err)
	}

	lastLSN := w.registry.LastLSN(docID)
	count, err := w.wal.MutationCountAfterLSN(ctx, docID, latest.LastLSN)
	if err != nil {
		return fmt.Errorf("count mutations: %w", err)
	}
	if count < w.mutationThreshold {
		return nil
	}

	doc := w.registry.Doc(docID)
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	objectPath := fmt.Sprintf("snapshots/%s/%d.json", docID, lastLSN)
	if _, err := w.object.PutObject(ctx, w.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	ref := storage.SnapshotRef{
		Document:   docID,
		Causality:  doc.StateVector(),
		ObjectPath: objectPath,
		LastLSN:    lastLSN,
		CreatedAt:  time.Now().UTC(),
	}
	if err := w.wal.RecordSnapshot(ctx, ref); err != nil {
		return fmt.Errorf("persist snapshot ref: %w", err)
	}

	w.logger.Info().Str("document", string(docID)).Int64("lsn", lastLSN).Msg("snapshot created")
	return nil
}
