package collaboration

import (
	"context"
	"fmt"
	"log"

	"canvas-relay/internal/middleware"
	"canvas-relay/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// Bridge carries local broadcasts to other relay nodes
type Bridge interface {
	Publish(ctx context.Context, roomCode, senderID string, f Frame) error
}

// FailureHandler is told about a peer whose delivery failed
type FailureHandler func(id string, err error)

// Relay delivers messages to every member of a room except the sender.
//
// Delivery is fire-and-forget: frames are queued on each peer's outbox and
// the call returns. A peer whose outbox rejects a frame is reported to the
// failure handler, which treats it as disconnected.
type Relay struct {
	registry  *Registry
	bridge    Bridge
	onFailure FailureHandler
}

// NewRelay creates a relay over registry
func NewRelay(registry *Registry) *Relay {
	return &Relay{registry: registry}
}

// SetBridge attaches a cross-node bridge
func (rl *Relay) SetBridge(bridge Bridge) {
	rl.bridge = bridge
}

// SetFailureHandler installs the handler for failed deliveries
func (rl *Relay) SetFailureHandler(handler FailureHandler) {
	rl.onFailure = handler
}

// NewFrame encodes payload as a frame of the given type
func NewFrame(senderID string, msgType models.MessageType, payload any) (Frame, error) {
	data, err := models.EncodeEnvelope(msgType, payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s frame: %w", msgType, err)
	}
	return Frame{
		Type:  msgType,
		Data:  data,
		Class: ClassOf(msgType),
		Key:   senderID,
	}, nil
}

// Broadcast delivers payload tagged with msgType to every connection in
// roomCode except senderID. Broadcasting to a room with no members is a no-op.
func (rl *Relay) Broadcast(ctx context.Context, senderID, roomCode string, msgType models.MessageType, payload any) error {
	frame, err := NewFrame(senderID, msgType, payload)
	if err != nil {
		return err
	}
	rl.BroadcastFrame(ctx, senderID, roomCode, frame)
	return nil
}

// BroadcastFrame delivers an already encoded frame
func (rl *Relay) BroadcastFrame(ctx context.Context, senderID, roomCode string, f Frame) {
	var delivered int
	rl.registry.withRoomRead(roomCode, func(r *room) {
		delivered = rl.fanoutLocked(r, senderID, f)
	})

	middleware.AddSpanEvent(ctx, "relay.broadcast",
		attribute.String("room.code", roomCode),
		attribute.String("message.type", string(f.Type)),
		attribute.Int("message.recipients", delivered),
	)

	rl.publishRemote(ctx, roomCode, senderID, f)
}

// fanoutLocked queues f on every member except the sender. The caller holds
// the room lock, which keeps fan-outs from one room in a single order.
func (rl *Relay) fanoutLocked(r *room, senderID string, f Frame) int {
	delivered := 0
	for id, m := range r.members {
		if id == senderID {
			continue
		}
		if err := m.peer.Deliver(f); err != nil {
			rl.fail(id, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (rl *Relay) publishRemote(ctx context.Context, roomCode, senderID string, f Frame) {
	if rl.bridge == nil {
		return
	}
	if err := rl.bridge.Publish(ctx, roomCode, senderID, f); err != nil {
		log.Printf("⚠️  Bridge publish failed for room %s: %v", roomCode, err)
		middleware.AddSpanError(ctx, err)
	}
}

// DeliverRemote fans out a frame that arrived from another node. The sender
// lives on that node, so every local member receives it.
func (rl *Relay) DeliverRemote(roomCode string, f Frame) {
	rl.registry.withRoomRead(roomCode, func(r *room) {
		rl.fanoutLocked(r, f.Key, f)
	})
}

// SendTo delivers a frame to a single peer (acks and errors to a sender)
func (rl *Relay) SendTo(peer Peer, msgType models.MessageType, payload any) error {
	frame, err := NewFrame("", msgType, payload)
	if err != nil {
		return err
	}
	if err := peer.Deliver(frame); err != nil {
		rl.fail(peer.ID(), err)
		return err
	}
	return nil
}

// fail reports a delivery failure without blocking the fan-out; cleanup
// needs room locks the caller may be holding.
func (rl *Relay) fail(id string, err error) {
	if rl.onFailure == nil {
		return
	}
	go rl.onFailure(id, err)
}
