package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"canvas-relay/internal/models"
	"canvas-relay/internal/services/collaboration"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
)

/*
CROSS-NODE FAN-OUT

Each relay node publishes its room broadcasts on canvas-relay:room:<code>
and pattern-subscribes to every room channel. A node delivers a received
frame to its own members of that room and ignores frames it published
itself. Nothing is stored in Redis.
*/

// ChannelPrefix namespaces room channels
const ChannelPrefix = "canvas-relay:room:"

// DeliverFunc hands a remote frame to the local relay
type DeliverFunc func(roomCode string, f collaboration.Frame)

type wireMessage struct {
	Node   string                      `json:"node"`
	Sender string                      `json:"sender"`
	Tag    models.MessageType          `json:"tag"`
	Class  collaboration.DeliveryClass `json:"class"`
	Frame  []byte                      `json:"frame"` // base64, so frames cross nodes byte-for-byte
}

// RedisBridge relays broadcasts between nodes over Redis pub/sub
type RedisBridge struct {
	client  *redis.Client
	nodeID  string
	deliver DeliverFunc

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisBridge connects to redisURL and verifies the server is reachable
func NewRedisBridge(ctx context.Context, redisURL string, deliver DeliverFunc) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisBridgeWithClient(client, deliver), nil
}

// NewRedisBridgeWithClient wraps an existing client
func NewRedisBridgeWithClient(client *redis.Client, deliver DeliverFunc) *RedisBridge {
	return &RedisBridge{
		client:  client,
		nodeID:  ksuid.New().String(),
		deliver: deliver,
	}
}

// NodeID identifies this relay node on the bus
func (b *RedisBridge) NodeID() string {
	return b.nodeID
}

// Start subscribes to every room channel and begins delivering remote frames
func (b *RedisBridge) Start(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, ChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to room channels: %w", err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.receiveLoop(pubsub.Channel())

	log.Printf("✓ Cluster bridge started (node %s)", b.nodeID)
	return nil
}

func (b *RedisBridge) receiveLoop(ch <-chan *redis.Message) {
	defer b.wg.Done()

	for msg := range ch {
		roomCode, frame, ok := b.decode(msg.Channel, []byte(msg.Payload))
		if !ok {
			continue
		}
		b.deliver(roomCode, frame)
	}
}

// Publish sends a local broadcast to the other nodes
func (b *RedisBridge) Publish(ctx context.Context, roomCode, senderID string, f collaboration.Frame) error {
	data, err := b.encode(senderID, f)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, ChannelPrefix+roomCode, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to room %s: %w", roomCode, err)
	}
	return nil
}

func (b *RedisBridge) encode(senderID string, f collaboration.Frame) ([]byte, error) {
	data, err := json.Marshal(wireMessage{
		Node:   b.nodeID,
		Sender: senderID,
		Tag:    f.Type,
		Class:  f.Class,
		Frame:  f.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode bridge message: %w", err)
	}
	return data, nil
}

// decode returns the room and frame of a message from another node
func (b *RedisBridge) decode(channel string, payload []byte) (string, collaboration.Frame, bool) {
	roomCode, found := strings.CutPrefix(channel, ChannelPrefix)
	if !found || roomCode == "" {
		return "", collaboration.Frame{}, false
	}

	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("⚠️  Dropping undecodable bridge message on %s: %v", channel, err)
		return "", collaboration.Frame{}, false
	}
	if msg.Node == b.nodeID || len(msg.Frame) == 0 {
		return "", collaboration.Frame{}, false
	}

	return roomCode, collaboration.Frame{
		Type:  msg.Tag,
		Data:  msg.Frame,
		Class: msg.Class,
		Key:   msg.Sender,
	}, true
}

// Close unsubscribes, waits for the receive loop and closes the client
func (b *RedisBridge) Close() error {
	log.Println("🛑 Closing cluster bridge...")

	b.mu.Lock()
	pubsub := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			log.Printf("⚠️  Error closing redis subscription: %v", err)
		}
	}
	b.wg.Wait()

	if err := b.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	log.Println("✓ Cluster bridge closed")
	return nil
}
