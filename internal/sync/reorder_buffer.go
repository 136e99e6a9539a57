package syncstate

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/example/richtext-sync/internal/types"
)

// ErrCausalityGap is returned when a mutation is queued because the server
// has not yet observed one of its causal predecessors.
var ErrCausalityGap = errors.New("mutation delayed: causal gap detected")

// MutationApplier is invoked when a mutation record is ready to be applied
// to its document's doctree.Doc.
type MutationApplier func(types.MutationRecord) error

// MutationReorderBuffer holds mutation records that cannot be applied yet
// because the local state vector lags behind the incoming record's
// causality stamp — the gap a remote peer's reconciled edit can arrive with
// when broadcast delivery races its own WAL persistence.
type MutationReorderBuffer struct {
	mu       sync.Mutex
	tracker  *VectorClockTracker
	pending  map[types.DocumentID][]types.MutationRecord
	logger   zerolog.Logger
	reorders *prometheus.CounterVec
}

// NewMutationReorderBuffer constructs a buffer with the provided clock
// tracker and logger.
func NewMutationReorderBuffer(tracker *VectorClockTracker, logger zerolog.Logger) *MutationReorderBuffer {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync",
		Subsystem: "vector_clock",
		Name:      "mutations_reordered_total",
		Help:      "Number of mutations applied after waiting for causal predecessors.",
	}, []string{"document_id"})

	if err := prometheus.Register(counter); err != nil {
		if regErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			counter = regErr.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return &MutationReorderBuffer{
		tracker:  tracker,
		logger:   logger,
		pending:  make(map[types.DocumentID][]types.MutationRecord),
		reorders: counter,
	}
}

// HandleMutation determines whether the provided record can be applied
// immediately. If the local clock does not dominate the record's causality
// stamp, it is queued until its dependencies arrive.
func (b *MutationReorderBuffer) HandleMutation(rec types.MutationRecord, apply MutationApplier) error {
	if rec.Causality == nil {
		rec.Causality = make(types.StateVector)
	}

	if !b.tracker.Dominates(rec.Document, rec.Causality) {
		b.enqueue(rec)
		b.logger.Info().
			Str("document", string(rec.Document)).
			Str("operation", string(rec.Operation)).
			Str("client", string(rec.Client)).
			Msg("queued mutation pending causal predecessors")
		return ErrCausalityGap
	}

	if err := apply(rec); err != nil {
		return err
	}
	b.tracker.MergeRemote(rec.Document, rec.Causality)

	return b.drain(rec.Document, apply)
}

// drain re-checks pending mutations to see if any are now unblocked.
func (b *MutationReorderBuffer) drain(docID types.DocumentID, apply MutationApplier) error {
	for {
		rec, ok := b.dequeueReady(docID)
		if !ok {
			return nil
		}

		b.logger.Info().
			Str("document", string(docID)).
			Str("operation", string(rec.Operation)).
			Str("client", string(rec.Client)).
			Msg("applying previously queued mutation")
		b.reorders.WithLabelValues(string(docID)).Inc()

		if err := apply(rec); err != nil {
			return err
		}
		b.tracker.MergeRemote(docID, rec.Causality)
	}
}

func (b *MutationReorderBuffer) enqueue(rec types.MutationRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[rec.Document] = append(b.pending[rec.Document], rec)
}

func (b *MutationReorderBuffer) dequeueReady(docID types.DocumentID) (types.MutationRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.pending[docID]
	if len(queue) == 0 {
		return types.MutationRecord{}, false
	}

	clock := b.tracker.Snapshot(docID)
	for i, rec := range queue {
		if clock.Dominates(rec.Causality) {
			b.pending[docID] = append(queue[:i], queue[i+1:]...)
			return rec, true
		}
	}

	return types.MutationRecord{}, false
}
