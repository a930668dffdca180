package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"canvas-relay/internal/models"
)

// DefaultUsername is used when a join carries no username
const DefaultUsername = "Anonymous"

// Join field limits, in characters
const (
	MaxRoomCodeLength = 128
	MaxUsernameLength = 100
)

// Gateway owns the identity of every live connection and ties transport
// lifecycle to room membership.
type Gateway struct {
	registry *Registry
	relay    *Relay
	presence *PresenceTracker

	mu    sync.RWMutex
	conns map[string]*session

	// cursor frames evicted from outboxes of connections already gone
	retiredDrops atomic.Uint64
}

// queueReporter is implemented by peers backed by an Outbox
type queueReporter interface {
	Len() int
	Dropped() uint64
}

// OutboundStats reports frames queued on live connections and cursor frames
// evicted from slow consumers since start.
type OutboundStats struct {
	Queued  int    `json:"queued"`
	Dropped uint64 `json:"dropped_cursor_frames"`
}

type session struct {
	mu     sync.Mutex
	conn   models.Connection
	peer   Peer
	closed bool
}

// NewGateway wires the gateway as the relay's failure handler: a peer that
// cannot take a frame is disconnected.
func NewGateway(registry *Registry, relay *Relay, presence *PresenceTracker) *Gateway {
	g := &Gateway{
		registry: registry,
		relay:    relay,
		presence: presence,
		conns:    make(map[string]*session),
	}
	relay.SetFailureHandler(func(id string, err error) {
		log.Printf("⚠️  Delivery to connection %s failed, disconnecting: %v", id, err)
		g.Disconnect(context.Background(), id)
	})
	return g
}

// Connect allocates an identity for a new transport connection. attach
// builds the connection's peer once its id is known.
func (g *Gateway) Connect(remoteAddr string, attach func(id string) Peer) models.Connection {
	conn := models.NewConnection(remoteAddr)
	s := &session{conn: *conn, peer: attach(conn.ID)}

	g.mu.Lock()
	g.conns[conn.ID] = s
	total := len(g.conns)
	g.mu.Unlock()

	log.Printf("✓ Connection %s established from %s (total: %d)", conn.ID, remoteAddr, total)
	return *conn
}

func (g *Gateway) session(id string) (*session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.conns[id]
	return s, ok
}

// Join places a connection in a room. The joiner receives a joined ack and
// the room's presence view before any other room traffic.
func (g *Gateway) Join(ctx context.Context, id, roomCode, username string) (JoinResult, error) {
	roomCode = strings.TrimSpace(roomCode)
	if roomCode == "" {
		return JoinResult{}, fmt.Errorf("%w: room code is required", ErrMalformed)
	}
	if n := utf8.RuneCountInString(roomCode); n > MaxRoomCodeLength {
		return JoinResult{}, fmt.Errorf("%w: room code has %d characters, limit is %d", ErrMalformed, n, MaxRoomCodeLength)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = DefaultUsername
	}
	if n := utf8.RuneCountInString(username); n > MaxUsernameLength {
		return JoinResult{}, fmt.Errorf("%w: username has %d characters, limit is %d", ErrMalformed, n, MaxUsernameLength)
	}

	s, ok := g.session(id)
	if !ok {
		return JoinResult{}, ErrUnknownConnection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return JoinResult{}, ErrConnectionClosed
	}
	if s.conn.RoomCode != "" {
		return JoinResult{}, ErrAlreadyJoined
	}

	var greetErr error
	result, err := g.registry.Join(id, roomCode, username, s.peer, func(res JoinResult) {
		greetErr = g.relay.SendTo(s.peer, models.MessageTypeJoined, models.JoinedPayload{
			ConnectionID: id,
			RoomCode:     roomCode,
			Username:     username,
			Members:      res.Members,
		})
		if greetErr != nil {
			return
		}
		greetErr = g.relay.SendTo(s.peer, models.MessageTypePresenceSync, models.PresenceSyncPayload{
			Entries: res.Presence,
		})
	})
	if err != nil {
		return JoinResult{}, err
	}

	s.conn.RoomCode = roomCode
	s.conn.Username = username

	if greetErr != nil {
		// The relay has already scheduled the disconnect.
		return result, fmt.Errorf("failed to greet connection %s: %w", id, greetErr)
	}
	return result, nil
}

// Disconnect removes a connection from its room, announces the departure
// once and forgets the identity. Repeated calls are no-ops.
func (g *Gateway) Disconnect(ctx context.Context, id string) bool {
	g.mu.Lock()
	s, ok := g.conns[id]
	if ok {
		delete(g.conns, id)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}

	s.mu.Lock()
	s.closed = true
	roomCode := s.conn.RoomCode
	s.mu.Unlock()

	if roomCode != "" {
		g.presence.RemoveConnection(ctx, id, roomCode)
	}
	s.peer.Close()
	if q, ok := s.peer.(queueReporter); ok {
		g.retiredDrops.Add(q.Dropped())
	}

	log.Printf("  Connection %s disconnected (room: %q)", id, roomCode)
	return true
}

// Touch records inbound activity on a connection
func (g *Gateway) Touch(id string) {
	s, ok := g.session(id)
	if !ok {
		return
	}
	s.mu.Lock()
	s.conn.LastActiveAt = time.Now()
	s.mu.Unlock()
}

// Lookup returns a copy of the connection record
func (g *Gateway) Lookup(id string) (models.Connection, bool) {
	s, ok := g.session(id)
	if !ok {
		return models.Connection{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, true
}

// Peer returns the outbound side of a connection
func (g *Gateway) Peer(id string) (Peer, bool) {
	s, ok := g.session(id)
	if !ok {
		return nil, false
	}
	return s.peer, true
}

// Count returns the number of live connections
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Outbound sums the outbound queues of every connection
func (g *Gateway) Outbound() OutboundStats {
	g.mu.RLock()
	peers := make([]Peer, 0, len(g.conns))
	for _, s := range g.conns {
		peers = append(peers, s.peer)
	}
	g.mu.RUnlock()

	stats := OutboundStats{Dropped: g.retiredDrops.Load()}
	for _, p := range peers {
		if q, ok := p.(queueReporter); ok {
			stats.Queued += q.Len()
			stats.Dropped += q.Dropped()
		}
	}
	return stats
}

// CloseAll disconnects every connection, stopping early if ctx expires
func (g *Gateway) CloseAll(ctx context.Context) error {
	g.mu.RLock()
	ids := make([]string, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	log.Printf("🛑 Closing %d connections...", len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("gateway close interrupted: %w", err)
		}
		g.Disconnect(ctx, id)
	}
	log.Println("✓ All connections closed")
	return nil
}

// errorCode maps a collaboration error to its wire code
func errorCode(err error) models.ErrorCode {
	switch {
	case errors.Is(err, ErrNotJoined):
		return models.ErrorCodeNotJoined
	case errors.Is(err, ErrAlreadyJoined):
		return models.ErrorCodeAlreadyJoined
	case errors.Is(err, ErrSnapshotTooLarge):
		return models.ErrorCodeSnapshotTooLarge
	case errors.Is(err, ErrRoomFull):
		return models.ErrorCodeRoomFull
	default:
		return models.ErrorCodeMalformed
	}
}
