package collaboration

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"canvas-relay/internal/models"

	"github.com/stretchr/testify/require"
)

// testPeer is an outbox-backed Peer that records what it was sent
type testPeer struct {
	id     string
	outbox *Outbox

	mu       sync.Mutex
	received []models.Envelope
}

func newTestPeer(id string) *testPeer {
	return &testPeer{id: id, outbox: NewOutbox(256, 64)}
}

func newTestPeerWithLimits(id string, limit, presenceCap int) *testPeer {
	return &testPeer{id: id, outbox: NewOutbox(limit, presenceCap)}
}

func (p *testPeer) ID() string            { return p.id }
func (p *testPeer) Deliver(f Frame) error { return p.outbox.Push(f) }
func (p *testPeer) Close()                { p.outbox.Close() }
func (p *testPeer) Len() int              { return p.outbox.Len() }
func (p *testPeer) Dropped() uint64       { return p.outbox.Dropped() }

// drain moves queued frames into the received log and returns the full log
func (p *testPeer) drain(t *testing.T) []models.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.outbox.Drain() {
		var env models.Envelope
		require.NoError(t, json.Unmarshal(f.Data, &env))
		p.received = append(p.received, env)
	}
	out := make([]models.Envelope, len(p.received))
	copy(out, p.received)
	return out
}

func (p *testPeer) ofType(t *testing.T, msgType models.MessageType) []models.Envelope {
	t.Helper()
	var out []models.Envelope
	for _, env := range p.drain(t) {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (p *testPeer) closed() bool {
	select {
	case <-p.outbox.Done():
		return true
	default:
		return false
	}
}

func types(envs []models.Envelope) []models.MessageType {
	out := make([]models.MessageType, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Type)
	}
	return out
}

func decode[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

// recordingObserver captures registry lifecycle callbacks
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) RoomOpened(roomCode string) { o.add("opened:" + roomCode) }
func (o *recordingObserver) MemberJoined(roomCode, id, username string, members int) {
	o.add("joined:" + roomCode + ":" + id)
}
func (o *recordingObserver) MemberLeft(roomCode, id, username string, members int) {
	o.add("left:" + roomCode + ":" + id)
}
func (o *recordingObserver) RoomClosed(roomCode string) { o.add("closed:" + roomCode) }

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

// stack is a fully wired set of collaboration components without transport
type stack struct {
	registry   *Registry
	relay      *Relay
	presence   *PresenceTracker
	documents  *DocumentChannel
	chat       *ChatChannel
	gateway    *Gateway
	dispatcher *Dispatcher
}

func newStack(opts ...RegistryOption) *stack {
	registry := NewRegistry(opts...)
	relay := NewRelay(registry)
	presence := NewPresenceTracker(registry, relay, 0)
	documents := NewDocumentChannel(registry, relay, 1024)
	chat := NewChatChannel(registry, relay)
	gateway := NewGateway(registry, relay, presence)
	return &stack{
		registry:   registry,
		relay:      relay,
		presence:   presence,
		documents:  documents,
		chat:       chat,
		gateway:    gateway,
		dispatcher: NewDispatcher(gateway, relay, presence, documents, chat),
	}
}

// connect registers a test peer with the gateway
func (s *stack) connect() *testPeer {
	var peer *testPeer
	s.gateway.Connect("127.0.0.1:0", func(id string) Peer {
		peer = newTestPeer(id)
		return peer
	})
	return peer
}

const eventually = time.Second
const tick = 5 * time.Millisecond
