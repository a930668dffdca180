package models

import (
	"bytes"
	"encoding/json"
	"time"
)

/*
WIRE PROTOCOL

Every WebSocket frame is a JSON envelope:

	{"type": "<tag>", "payload": {...}}

Inbound payloads are decoded by the relay according to the tag. Outbound
payloads are produced by the relay and always carry the sender's connection
id so clients can key presence and ignore their own state.
*/

// MessageType is the envelope tag
type MessageType string

const (
	MessageTypeJoin             MessageType = "join"
	MessageTypeJoined           MessageType = "joined"
	MessageTypeDocumentSnapshot MessageType = "document-snapshot"
	MessageTypeCursorUpdate     MessageType = "cursor-update"
	MessageTypePresenceSync     MessageType = "presence-sync"
	MessageTypePresenceRemoved  MessageType = "presence-removed"
	MessageTypeChatMessage      MessageType = "chat-message"
	MessageTypeError            MessageType = "error"
)

// Envelope is the frame every message travels in
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRequest is sent once by a client to enter a room
type JoinRequest struct {
	Username string `json:"username"`
	RoomCode string `json:"roomCode"`
}

// JoinedPayload acknowledges a join to the joining client only
type JoinedPayload struct {
	ConnectionID string `json:"connectionId"`
	RoomCode     string `json:"roomCode"`
	Username     string `json:"username"`
	Members      int    `json:"members"`
}

// DocumentSnapshotIn is what a client publishes
type DocumentSnapshotIn struct {
	Shapes json.RawMessage `json:"shapes"`
}

// DocumentSnapshotOut is what peers receive: the full document, verbatim
type DocumentSnapshotOut struct {
	ConnectionID string          `json:"connectionId"`
	Shapes       json.RawMessage `json:"shapes"`
}

// CursorUpdateIn is what a client publishes
type CursorUpdateIn struct {
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	IsActive bool     `json:"isActive"`
}

// PresenceSyncPayload gives a joining client the current presence view
type PresenceSyncPayload struct {
	Entries []PresenceEntry `json:"entries"`
}

// PresenceRemovedPayload announces a departed connection
type PresenceRemovedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// ChatMessageIn is what a client publishes
type ChatMessageIn struct {
	Text string `json:"text"`
}

// ErrorCode classifies errors reported back to a sender
type ErrorCode string

const (
	ErrorCodeMalformed        ErrorCode = "malformed"
	ErrorCodeNotJoined        ErrorCode = "not-joined"
	ErrorCodeAlreadyJoined    ErrorCode = "already-joined"
	ErrorCodeSnapshotTooLarge ErrorCode = "snapshot-too-large"
	ErrorCodeRoomFull         ErrorCode = "room-full"
)

// ErrorPayload is delivered to the offending sender only
type ErrorPayload struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Ref     MessageType `json:"ref,omitempty"` // tag of the rejected message
}

// EncodeEnvelope marshals a payload into a ready-to-send frame
func EncodeEnvelope(msgType MessageType, payload any) ([]byte, error) {
	raw, err := marshal(payload)
	if err != nil {
		return nil, err
	}
	return wrap(msgType, raw)
}

// EncodeDocumentSnapshot builds a document-snapshot frame around shapes
// without re-encoding them, so peers receive the sender's bytes unchanged.
// shapes must already be valid JSON.
func EncodeDocumentSnapshot(connectionID string, shapes json.RawMessage) ([]byte, error) {
	id, err := marshal(connectionID)
	if err != nil {
		return nil, err
	}

	var payload bytes.Buffer
	payload.Grow(len(shapes) + len(id) + 32)
	payload.WriteString(`{"connectionId":`)
	payload.Write(id)
	payload.WriteString(`,"shapes":`)
	payload.Write(shapes)
	payload.WriteByte('}')
	return wrap(MessageTypeDocumentSnapshot, payload.Bytes())
}

// wrap splices an encoded payload into an envelope
func wrap(msgType MessageType, payload []byte) ([]byte, error) {
	tag, err := marshal(msgType)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + len(tag) + 24)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(payload) > 0 {
		buf.WriteString(`,"payload":`)
		buf.Write(payload)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshal encodes v without HTML escaping; user text goes out as typed
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// NowMillis is the timestamp format used on the wire
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
