package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/richtext-sync/internal/broadcast"
	"github.com/example/richtext-sync/internal/config"
	"github.com/example/richtext-sync/internal/docregistry"
	"github.com/example/richtext-sync/internal/doctree"
	"github.com/example/richtext-sync/internal/observability"
	"github.com/example/richtext-sync/internal/playback"
	"github.com/example/richtext-sync/internal/presence"
	"github.com/example/richtext-sync/internal/snapshotstore"
	"github.com/example/richtext-sync/internal/storage"
	syncstate "github.com/example/richtext-sync/internal/sync"
	"github.com/example/richtext-sync/internal/types"
	"github.com/example/richtext-sync/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	wal := storage.NewWAL(resources.Postgres)
	registry := docregistry.NewRegistry(types.ClientID(cfg.AppName+"-server"), logger)
	clockTracker := syncstate.NewVectorClockTracker()
	reorderBuf := syncstate.NewMutationReorderBuffer(clockTracker, logger)
	connRegistry := ws.NewConnectionRegistry()
	broadcaster := broadcast.NewRedisBroadcaster(resources.Redis, connRegistry, logger)
	presenceSvc := presence.NewService(resources.Redis, connRegistry, logger)

	if err := restoreDocuments(ctx, wal, registry, resources.Object, cfg.ObjectBucket, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to restore documents from wal/snapshots")
	}

	snapshotWorker := snapshotstore.NewWorker(wal, registry, resources.Object, cfg.ObjectBucket, logger)
	snapshotWorker.Start(ctx)
	broadcaster.Start(ctx)
	presenceSvc.Start(ctx)

	go checkpointLoop(ctx, wal, registry, logger, cfg.HealthcheckProbe)

	playbackSvc := playback.NewService(wal, cfg.ObjectBucket, playback.NewObjectLoader(resources.Object), logger, playback.ServiceConfig{})
	playbackHandler := playback.NewHTTPHandler(playbackSvc, logger)

	hooks := presenceSvc.WrapHooks(ws.Hooks{
		OnOperation: func(ctx context.Context, conn *ws.Connection, env *ws.Envelope) error {
			return applyRemoteMutation(ctx, wal, registry, reorderBuf, connRegistry, broadcaster, conn, env, logger)
		},
	})

	gateway, err := ws.NewGateway(ws.AuthFunc(authenticate), connRegistry, logger, hooks, ws.GatewayConfig{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct websocket gateway")
	}

	mux := http.NewServeMux()
	mux.Handle("/documents/", playbackHandler)
	mux.Handle("/ws", gateway)
	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	logger.Info().Msg("server dependencies initialized")

	go func() {
		ticker := time.NewTicker(cfg.HealthcheckProbe)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := resources.HealthCheck(context.Background()); err != nil {
					logger.Error().Err(err).Msg("dependency healthcheck failed")
				} else {
					logger.Debug().Msg("dependency healthcheck ok")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		resources.Close()
		close(done)
	}()

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}

// authenticate is a placeholder identity check; real deployments exchange a
// session token for a ClientIdentity here.
func authenticate(r *http.Request) (ws.ClientIdentity, error) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return ws.ClientIdentity{
		ClientID:   clientID,
		DocumentID: r.URL.Query().Get("document_id"),
	}, nil
}

// applyRemoteMutation decodes the client-submitted full document state,
// installs it as the document's new live state, persists it, and relays it
// to every other connection. Concurrent submissions are resolved
// last-write-wins at whole-document granularity: the server does not merge
// two incoming full states against each other (see DESIGN.md).
//
// Two connections on the same document run applyRemoteMutation from
// separate connection goroutines, so a mutation whose causality stamp
// names a predecessor this instance hasn't installed yet (broadcast
// delivery racing the predecessor's own WAL append) is held by reorderBuf
// until that predecessor lands, rather than being installed out of order.
func applyRemoteMutation(ctx context.Context, wal *storage.WAL, registry *docregistry.Registry, reorderBuf *syncstate.MutationReorderBuffer, connRegistry *ws.ConnectionRegistry, broadcaster *broadcast.RedisBroadcaster, conn *ws.Connection, env *ws.Envelope, logger zerolog.Logger) error {
	if env.Mutation == nil {
		return nil
	}
	rec := *env.Mutation
	rec.Document = types.DocumentID(conn.DocumentID())
	rec.Client = types.ClientID(conn.ClientID())

	apply := func(rec types.MutationRecord) error {
		doc, err := doctree.DecodeDoc(rec.Payload)
		if err != nil {
			return fmt.Errorf("decode submitted document state: %w", err)
		}

		lsn, err := wal.AppendMutation(ctx, rec.Document, rec)
		if err != nil {
			return fmt.Errorf("append mutation: %w", err)
		}
		registry.Install(rec.Document, doc, lsn)
		rec.LSN = lsn

		out := &ws.Envelope{StreamID: string(rec.Document), Timestamp: time.Now().UTC().UnixNano(), Mutation: &rec}
		connRegistry.BroadcastBinaryByClientID(string(rec.Document), mustEncode(out, logger), conn.ClientID())

		if err := broadcaster.Publish(ctx, rec.Document, rec.Operation, rec.Client, out); err != nil {
			logger.Warn().Err(err).Str("document", string(rec.Document)).Msg("cross-instance broadcast publish failed")
		}
		return nil
	}

	if err := reorderBuf.HandleMutation(rec, apply); err != nil {
		if errors.Is(err, syncstate.ErrCausalityGap) {
			return nil
		}
		return err
	}
	return nil
}

func mustEncode(env *ws.Envelope, logger zerolog.Logger) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode outbound envelope")
		return nil
	}
	return data
}

func restoreDocuments(ctx context.Context, wal *storage.WAL, registry *docregistry.Registry, object *minio.Client, bucket string, logger zerolog.Logger) error {
	docs, err := wal.ActiveDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list active wal documents: %w", err)
	}

	for _, docID := range docs {
		if err := restoreDocument(ctx, wal, registry, object, bucket, docID, logger); err != nil {
			logger.Error().Err(err).Str("document", string(docID)).Msg("failed to restore document; starting empty")
		}
	}

	return nil
}

// restoreDocument hydrates a document's live state from the latest
// full-state WAL row if one exists, falling back to the latest
// object-storage snapshot. Because every WAL row already carries the whole
// document (see internal/doctree.Doc.Encode), restoring is "load the single
// newest row", not a replay loop.
func restoreDocument(ctx context.Context, wal *storage.WAL, registry *docregistry.Registry, object *minio.Client, bucket string, docID types.DocumentID, logger zerolog.Logger) error {
	if rec, ok, err := wal.LatestMutationAtOrBefore(ctx, docID, math.MaxInt64); err != nil {
		return fmt.Errorf("query latest mutation: %w", err)
	} else if ok {
		doc, err := doctree.DecodeDoc(rec.Payload)
		if err != nil {
			return fmt.Errorf("decode latest mutation payload: %w", err)
		}
		registry.Install(docID, doc, rec.LSN)
		logger.Info().Str("document", string(docID)).Int64("lsn", rec.LSN).Msg("restored document from wal")
		return nil
	}

	if object == nil {
		return nil
	}
	ref, err := wal.LatestSnapshot(ctx, docID)
	if err != nil {
		return fmt.Errorf("lookup snapshot: %w", err)
	}
	if ref.ObjectPath == "" {
		return nil
	}

	obj, err := object.GetObject(ctx, bucket, ref.ObjectPath, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get snapshot object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return fmt.Errorf("read snapshot object: %w", err)
	}

	doc, err := doctree.DecodeDoc(data)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	registry.Install(docID, doc, ref.LastLSN)
	logger.Info().Str("document", string(docID)).Int64("lsn", ref.LastLSN).Msg("restored document from snapshot")
	return nil
}

func checkpointLoop(ctx context.Context, wal *storage.WAL, registry *docregistry.Registry, logger zerolog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			registry.Observe()
			for _, docID := range registry.Documents() {
				lsn := registry.LastLSN(docID)
				if lsn == 0 {
					continue
				}
				if err := wal.RecordCheckpoint(ctx, docID, lsn); err != nil {
					logger.Error().Err(err).Str("document", string(docID)).Msg("failed to persist checkpoint")
					continue
				}
				if backlog, err := wal.MutationCountAfterLSN(ctx, docID, lsn); err == nil {
					wal.RecordBacklogMetric(docID, backlog)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
