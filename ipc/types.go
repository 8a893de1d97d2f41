// Package ipc implements Orcha's external wire surface: an authenticated
// TCP endpoint exposing submit/cancel over a per-connection JSON protocol.
// Grounded structurally on the teacher's transport.Transport abstraction
// (Read/Send/Context) and its hello-handshake-then-handoff pattern
// (transport/socket.go's wsTransport.run), re-hosted on net.Conn instead of
// WebSocket since the wire requirement is a raw authenticated TCP stream
// (spec §6), not an HTTP upgrade.
package ipc

import (
	"context"
	"encoding/json"
)

// Conn is the per-connection abstraction the server hands off to after a
// successful handshake: read one envelope, send one envelope, observe when
// the underlying connection has closed. The shape mirrors
// transport.Transport exactly; only the wire framing underneath differs.
type Conn interface {
	Read(any) error
	Send(any) error
	Context() context.Context
}

// Envelope is the single wire type every message on the connection takes,
// tagged by Type so one json.Decoder can demultiplex a heterogeneous
// stream without a length-prefixed frame format.
type Envelope struct {
	Type string `json:"type"`

	// Handshake fields.
	Nonce string `json:"nonce,omitempty"`
	MAC   string `json:"mac,omitempty"`
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`

	// Request fields. Message carries a marshaled map[string]any (the
	// Message.Extras bag); raw JSON defers decoding until the concrete
	// target type (map[string]any server-side, petition.Frame
	// client-side) is known, avoiding a lossy interface{} round trip
	// through float64-typed numbers.
	CallID  int             `json:"call_id,omitempty"`
	ID      string          `json:"id,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`

	// Response fields.
	Frame json.RawMessage `json:"frame,omitempty"`
}

const (
	typeChallenge  = "challenge"
	typeAuth       = "auth"
	typeAuthResult = "auth_result"
	typeSubmit     = "submit"
	typeCancel     = "cancel"
	typeFrame      = "frame"
	typeAck        = "ack"
	typeError      = "error"
)
