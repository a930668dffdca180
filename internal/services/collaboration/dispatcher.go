package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"canvas-relay/internal/middleware"
	"canvas-relay/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// Dispatcher routes one decoded inbound frame to the channel that handles
// its tag. Rejections are answered with an error frame to the sender only;
// the connection stays open.
type Dispatcher struct {
	gateway   *Gateway
	relay     *Relay
	presence  *PresenceTracker
	documents *DocumentChannel
	chat      *ChatChannel
}

func NewDispatcher(gateway *Gateway, relay *Relay, presence *PresenceTracker, documents *DocumentChannel, chat *ChatChannel) *Dispatcher {
	return &Dispatcher{
		gateway:   gateway,
		relay:     relay,
		presence:  presence,
		documents: documents,
		chat:      chat,
	}
}

// Dispatch handles one raw frame from connection id
func (d *Dispatcher) Dispatch(ctx context.Context, id string, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		d.reject(ctx, id, "", fmt.Errorf("%w: not an envelope", ErrMalformed))
		return
	}

	middleware.AddSpanEvent(ctx, "message.received", attribute.String("message.type", string(env.Type)))

	var err error
	switch env.Type {
	case models.MessageTypeJoin:
		err = d.handleJoin(ctx, id, env.Payload)
	case models.MessageTypeDocumentSnapshot:
		err = d.handleDocument(ctx, id, env.Payload)
	case models.MessageTypeCursorUpdate:
		err = d.handleCursor(ctx, id, env.Payload)
	case models.MessageTypeChatMessage:
		err = d.handleChat(ctx, id, env.Payload)
	default:
		err = fmt.Errorf("%w: unknown message type %q", ErrMalformed, env.Type)
	}

	if err != nil {
		d.reject(ctx, id, env.Type, err)
	}
}

func (d *Dispatcher) handleJoin(ctx context.Context, id string, payload json.RawMessage) error {
	var req models.JoinRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	_, err := d.gateway.Join(ctx, id, req.RoomCode, req.Username)
	return err
}

func (d *Dispatcher) handleDocument(ctx context.Context, id string, payload json.RawMessage) error {
	roomCode, err := d.roomOf(id)
	if err != nil {
		return err
	}
	var in models.DocumentSnapshotIn
	if err := decodePayload(payload, &in); err != nil {
		return err
	}
	return d.documents.Publish(ctx, id, roomCode, in.Shapes)
}

func (d *Dispatcher) handleCursor(ctx context.Context, id string, payload json.RawMessage) error {
	roomCode, err := d.roomOf(id)
	if err != nil {
		return err
	}
	var in models.CursorUpdateIn
	if err := decodePayload(payload, &in); err != nil {
		return err
	}
	if in.X == nil || in.Y == nil {
		return fmt.Errorf("%w: cursor update needs x and y", ErrMalformed)
	}
	return d.presence.UpdateCursor(ctx, id, roomCode, *in.X, *in.Y, in.IsActive)
}

func (d *Dispatcher) handleChat(ctx context.Context, id string, payload json.RawMessage) error {
	roomCode, err := d.roomOf(id)
	if err != nil {
		return err
	}
	var in models.ChatMessageIn
	if err := decodePayload(payload, &in); err != nil {
		return err
	}
	_, err = d.chat.Publish(ctx, id, roomCode, in.Text)
	return err
}

func (d *Dispatcher) roomOf(id string) (string, error) {
	conn, ok := d.gateway.Lookup(id)
	if !ok {
		return "", ErrUnknownConnection
	}
	if conn.RoomCode == "" {
		return "", ErrNotJoined
	}
	return conn.RoomCode, nil
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// reject answers the sender with an error frame
func (d *Dispatcher) reject(ctx context.Context, id string, ref models.MessageType, err error) {
	if errors.Is(err, ErrUnknownConnection) || errors.Is(err, ErrConnectionClosed) {
		return
	}

	code := errorCode(err)
	log.Printf("⚠️  Rejected %q from connection %s: %v", ref, id, err)
	middleware.AddSpanEvent(ctx, "message.rejected",
		attribute.String("error.code", string(code)),
		attribute.String("message.type", string(ref)),
	)

	peer, ok := d.gateway.Peer(id)
	if !ok {
		return
	}
	if sendErr := d.relay.SendTo(peer, models.MessageTypeError, models.ErrorPayload{
		Code:    code,
		Message: err.Error(),
		Ref:     ref,
	}); sendErr != nil {
		middleware.AddSpanError(ctx, sendErr)
	}
}
