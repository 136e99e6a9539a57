package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// DocumentID identifies a collaborative document.
type DocumentID string

// ClientID identifies a replica participating in a document.
type ClientID string

// OperationID is a globally unique identifier for a persisted mutation.
type OperationID string

// ItemID is the logical identifier of a single CRDT item: the client that
// created it and that client's local, monotonically increasing clock value
// at creation time. Two items never share an ItemID.
type ItemID struct {
	Client ClientID `json:"client"`
	Clock  uint64   `json:"clock"`
}

// Less orders ItemIDs by client then clock, giving a total order usable for
// deterministic tie-breaking independent of arrival order.
func (id ItemID) Less(other ItemID) bool {
	if id.Client != other.Client {
		return id.Client < other.Client
	}
	return id.Clock < other.Clock
}

// String renders the identifier as "<client>#<clock>" for logs and diffs.
func (id ItemID) String() string {
	return fmt.Sprintf("%s#%d", id.Client, id.Clock)
}

// StateVector records, per client, the highest clock value observed.
type StateVector map[ClientID]uint64

// Covers reports whether the state vector has observed the given item, i.e.
// every clock value up to and including id.Clock for id.Client.
func (sv StateVector) Covers(id ItemID) bool {
	return sv[id.Client] >= id.Clock
}

// Merge folds another state vector into the receiver, taking the max per
// client.
func (sv StateVector) Merge(other StateVector) {
	for client, clock := range other {
		if current, ok := sv[client]; !ok || clock > current {
			sv[client] = clock
		}
	}
}

// Clone returns an independent copy of the state vector.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// Bump increments client's clock in place and returns the new value, the
// local-emission counterpart to Merge's remote-fold.
func (sv StateVector) Bump(client ClientID) uint64 {
	sv[client]++
	return sv[client]
}

// Dominates reports whether sv has observed everything other has, i.e. sv's
// clock for every client in other is at least as high.
func (sv StateVector) Dominates(other StateVector) bool {
	for client, clock := range other {
		if sv[client] < clock {
			return false
		}
	}
	return true
}

// DeleteSet records, per client, the set of clock ranges that have been
// tombstoned. Ranges are half-open [Start, Start+Len).
type DeleteSet map[ClientID][]ClockRange

// ClockRange is a contiguous, half-open range of clock values.
type ClockRange struct {
	Start uint64 `json:"start"`
	Len   uint64 `json:"len"`
}

func (r ClockRange) contains(clock uint64) bool {
	return clock >= r.Start && clock < r.Start+r.Len
}

// Contains reports whether id falls inside one of the client's tombstoned
// ranges.
func (ds DeleteSet) Contains(id ItemID) bool {
	for _, r := range ds[id.Client] {
		if r.contains(id.Clock) {
			return true
		}
	}
	return false
}

// Add records id as deleted, merging into an existing adjacent range when
// possible to keep the set compact.
func (ds DeleteSet) Add(id ItemID) {
	ranges := ds[id.Client]
	for i, r := range ranges {
		if r.contains(id.Clock) {
			return
		}
		if id.Clock == r.Start+r.Len {
			ranges[i].Len++
			ds[id.Client] = ranges
			return
		}
		if id.Clock+1 == r.Start {
			ranges[i].Start = id.Clock
			ranges[i].Len++
			ds[id.Client] = ranges
			return
		}
	}
	ds[id.Client] = append(ranges, ClockRange{Start: id.Clock, Len: 1})
}

// Clone returns an independent copy of the delete set.
func (ds DeleteSet) Clone() DeleteSet {
	out := make(DeleteSet, len(ds))
	for k, v := range ds {
		out[k] = append([]ClockRange(nil), v...)
	}
	return out
}

// MutationRecord stores a durable representation of a single reconciled
// CRDT-facing mutation, one row per transaction emitted by the binding's
// tree or text reconciler.
type MutationRecord struct {
	LSN       int64       `json:"lsn,omitempty"`
	Operation OperationID `json:"operation_id"`
	Document  DocumentID  `json:"document_id"`
	Client    ClientID    `json:"client_id"`
	Payload   []byte      `json:"payload"`
	Causality StateVector `json:"causality"`
	CreatedAt time.Time   `json:"created_at"`
}

// MarshalBinary serializes a MutationRecord to JSON for storage in a
// byte-oriented WAL.
func (r MutationRecord) MarshalBinary() ([]byte, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	payload := struct {
		LSN       int64       `json:"lsn,omitempty"`
		Operation OperationID `json:"operation_id"`
		Document  DocumentID  `json:"document_id"`
		Client    ClientID    `json:"client_id"`
		Payload   string      `json:"payload"`
		Causality StateVector `json:"causality"`
		CreatedAt time.Time   `json:"created_at"`
	}{
		LSN:       r.LSN,
		Operation: r.Operation,
		Document:  r.Document,
		Client:    r.Client,
		Payload:   string(r.Payload),
		Causality: r.Causality,
		CreatedAt: r.CreatedAt,
	}
	return json.Marshal(payload)
}

// UnmarshalBinary deserializes a MutationRecord from its JSON representation.
func (r *MutationRecord) UnmarshalBinary(data []byte) error {
	var payload struct {
		LSN       int64       `json:"lsn,omitempty"`
		Operation OperationID `json:"operation_id"`
		Document  DocumentID  `json:"document_id"`
		Client    ClientID    `json:"client_id"`
		Payload   string      `json:"payload"`
		Causality StateVector `json:"causality"`
		CreatedAt time.Time   `json:"created_at"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode mutation record: %w", err)
	}
	r.LSN = payload.LSN
	r.Operation = payload.Operation
	r.Document = payload.Document
	r.Client = payload.Client
	r.Payload = []byte(payload.Payload)
	r.Causality = payload.Causality
	r.CreatedAt = payload.CreatedAt
	return nil
}
