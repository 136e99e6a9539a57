package ws

import "github.com/example/richtext-sync/internal/types"

// Envelope is the wire message exchanged with an editor client over the
// gateway's binary frames. At most one of Mutation, Presence, or Cursor is
// set; JSON rather than protobuf because nothing in this pack's retrieved
// examples ships a .proto toolchain, and the WAL already encodes its rows as
// JSON (see internal/types.MutationRecord), so the websocket wire format
// follows the same convention instead of introducing a second codec.
type Envelope struct {
	StreamID  string `json:"stream_id"`
	Timestamp int64  `json:"timestamp"`

	Mutation *types.MutationRecord `json:"mutation,omitempty"`
	Presence *PresenceUpdate       `json:"presence,omitempty"`
	Cursor   *CursorUpdate         `json:"cursor,omitempty"`
}

// PresenceUpdate reports a client's join/heartbeat/leave state for a
// document.
type PresenceUpdate struct {
	DocumentID   string            `json:"document_id"`
	ClientID     string            `json:"client_id"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Disconnected bool              `json:"disconnected,omitempty"`
}

// CursorUpdate reports a client's editor cursor/selection position for
// remote-cursor rendering. Deliberately decoupled from PresenceUpdate: a
// client's presence heartbeat and its cursor move at different rates.
type CursorUpdate struct {
	DocumentID string `json:"document_id"`
	ClientID   string `json:"client_id"`
	Line       int32  `json:"line"`
	Column     int32  `json:"column"`
}
