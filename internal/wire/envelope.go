// Package wire implements the versioned socket envelope (§6), the
// line-framed JSON-RPC used over subprocess transports, and the
// ANSI/OSC-stripping line cleanup both variants rely on.
package wire

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the only envelope version this relay speaks.
const ProtocolVersion = 1

// Kind discriminates the three envelope shapes carried over the socket
// transport.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// Envelope is the single wire shape for the socket transport variant.
// Only the fields relevant to Kind are populated by either side; the rest
// are zero values and omitted on encode.
type Envelope struct {
	V         int             `json:"v"`
	Kind      Kind            `json:"kind"`
	ID        string          `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *EnvelopeError  `json:"error,omitempty"`
	Seq       *uint64         `json:"seq,omitempty"`
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EnvelopeError is the error shape embedded in a response envelope.
type EnvelopeError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewRequest builds a request envelope.
func NewRequest(id, method, sessionID string, params json.RawMessage) Envelope {
	return Envelope{V: ProtocolVersion, Kind: KindRequest, ID: id, Method: method, SessionID: sessionID, Params: params}
}

// NewResponse builds a successful response envelope.
func NewResponse(id, sessionID string, result json.RawMessage) Envelope {
	ok := true
	return Envelope{V: ProtocolVersion, Kind: KindResponse, ID: id, SessionID: sessionID, OK: &ok, Result: result}
}

// NewErrorResponse builds a failed response envelope.
func NewErrorResponse(id, sessionID string, envErr EnvelopeError) Envelope {
	ok := false
	return Envelope{V: ProtocolVersion, Kind: KindResponse, ID: id, SessionID: sessionID, OK: &ok, Error: &envErr}
}

// NewEvent builds an event envelope.
func NewEvent(sessionID string, seq uint64, typ string, payload json.RawMessage) Envelope {
	return Envelope{V: ProtocolVersion, Kind: KindEvent, SessionID: sessionID, Seq: &seq, Type: typ, Payload: payload}
}

// Encode serializes the envelope as one line of JSON (no trailing newline;
// callers append framing).
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses one frame into an envelope. A decode failure is the
// caller's signal to fall back to the legacy subprocess decoder.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}
