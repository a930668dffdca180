package collaboration

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"canvas-relay/internal/models"
)

// Peer is the outbound side of a connection as the registry sees it.
// The registry references peers, it never owns them.
type Peer interface {
	ID() string
	Deliver(f Frame) error
	Close()
}

// RoomObserver is notified of membership lifecycle events. Callbacks run
// under registry locks, in the order the events happen; implementations must
// not block or call back into the registry.
type RoomObserver interface {
	RoomOpened(roomCode string)
	MemberJoined(roomCode, connectionID, username string, members int)
	MemberLeft(roomCode, connectionID, username string, members int)
	RoomClosed(roomCode string)
}

// AdmissionPolicy decides whether one more member may join a room.
// members is the count before the join.
type AdmissionPolicy func(roomCode string, members int) error

// CapacityPolicy admits up to max members per room; max <= 0 admits everyone
func CapacityPolicy(max int) AdmissionPolicy {
	return func(roomCode string, members int) error {
		if max > 0 && members >= max {
			return fmt.Errorf("%w: %s has %d members", ErrRoomFull, roomCode, members)
		}
		return nil
	}
}

// JoinResult is the room state a joiner observes at the moment it joins
type JoinResult struct {
	RoomCode string
	Members  int
	Presence []models.PresenceEntry // other members that have reported a position
}

type member struct {
	peer     Peer
	presence models.PresenceEntry
}

type room struct {
	code    string
	mu      sync.RWMutex
	members map[string]*member
	closed  atomic.Bool
}

func newRoom(code string) *room {
	return &room{
		code:    code,
		members: make(map[string]*member),
	}
}

// presenceLocked returns entries with a reported position, excluding one id
func (r *room) presenceLocked(except string) []models.PresenceEntry {
	entries := make([]models.PresenceEntry, 0, len(r.members))
	for id, m := range r.members {
		if id == except || !m.presence.HasPosition {
			continue
		}
		entries = append(entries, m.presence)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ConnectionID < entries[j].ConnectionID
	})
	return entries
}

// Registry maps session codes to their members.
//
// The top-level map is locked only to find, create or drop a room. Membership
// and presence are guarded by each room's own lock, so traffic in different
// rooms never contends.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	admit    AdmissionPolicy
	observer RoomObserver
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithAdmissionPolicy installs an admission check run on every join
func WithAdmissionPolicy(policy AdmissionPolicy) RegistryOption {
	return func(r *Registry) {
		r.admit = policy
	}
}

// WithRoomObserver installs a lifecycle observer
func WithRoomObserver(observer RoomObserver) RegistryOption {
	return func(r *Registry) {
		r.observer = observer
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	reg := &Registry{
		rooms: make(map[string]*room),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// acquire returns the live room for code, creating it if needed
func (reg *Registry) acquire(code string) *room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[code]; ok && !r.closed.Load() {
		return r
	}
	r := newRoom(code)
	reg.rooms[code] = r
	if reg.observer != nil {
		reg.observer.RoomOpened(code)
	}
	return r
}

// release drops r from the table if it is still the room mapped to its code
func (reg *Registry) release(r *room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if current, ok := reg.rooms[r.code]; ok && current == r {
		delete(reg.rooms, r.code)
	}
}

func (reg *Registry) lookup(code string) *room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r := reg.rooms[code]
	if r == nil || r.closed.Load() {
		return nil
	}
	return r
}

// Join adds a connection to a room, creating the room if it does not exist.
// greet runs while the room lock is held, before any later room traffic can
// reach the new member; it must not block.
func (reg *Registry) Join(id, roomCode, username string, peer Peer, greet func(JoinResult)) (JoinResult, error) {
	for {
		r := reg.acquire(roomCode)

		r.mu.Lock()
		if r.closed.Load() {
			// Emptied between acquire and lock; take a fresh room.
			r.mu.Unlock()
			continue
		}

		if _, exists := r.members[id]; exists {
			r.mu.Unlock()
			return JoinResult{}, ErrAlreadyJoined
		}

		if reg.admit != nil {
			if err := reg.admit(roomCode, len(r.members)); err != nil {
				empty := len(r.members) == 0
				if empty {
					if reg.observer != nil {
						reg.observer.RoomClosed(roomCode)
					}
					r.closed.Store(true)
				}
				r.mu.Unlock()
				if empty {
					reg.release(r)
				}
				return JoinResult{}, err
			}
		}

		r.members[id] = &member{
			peer: peer,
			presence: models.PresenceEntry{
				ConnectionID: id,
				Username:     username,
				UpdatedAt:    time.Now(),
			},
		}

		result := JoinResult{
			RoomCode: roomCode,
			Members:  len(r.members),
			Presence: r.presenceLocked(id),
		}
		if greet != nil {
			greet(result)
		}
		if reg.observer != nil {
			reg.observer.MemberJoined(roomCode, id, username, result.Members)
		}
		r.mu.Unlock()

		log.Printf("  Connection %s joined room %s as %q (total: %d users)", id, roomCode, username, result.Members)
		return result, nil
	}
}

// Leave removes a connection from its room without notifying anyone.
// It reports whether the connection was a member.
func (reg *Registry) Leave(id, roomCode string) bool {
	return reg.leave(id, roomCode, nil)
}

// leave removes a member. farewell runs under the room lock with the
// remaining room so a departure notice is ordered with the rest of the
// room's traffic.
func (reg *Registry) leave(id, roomCode string, farewell func(r *room)) bool {
	r := reg.lookup(roomCode)
	if r == nil {
		return false
	}

	r.mu.Lock()
	m, ok := r.members[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, id)
	remaining := len(r.members)
	if remaining > 0 && farewell != nil {
		farewell(r)
	}
	if reg.observer != nil {
		reg.observer.MemberLeft(roomCode, id, m.presence.Username, remaining)
	}
	if remaining == 0 {
		// Closed only after the event so a reopened room is observed later.
		if reg.observer != nil {
			reg.observer.RoomClosed(roomCode)
		}
		r.closed.Store(true)
	}
	r.mu.Unlock()

	if remaining == 0 {
		reg.release(r)
		log.Printf("  Room %s closed (empty)", roomCode)
	} else {
		log.Printf("  Connection %s left room %s (remaining: %d users)", id, roomCode, remaining)
	}
	return true
}

// withRoom runs fn under the room's write lock. It returns false when the
// room does not exist.
func (reg *Registry) withRoom(roomCode string, fn func(r *room)) bool {
	r := reg.lookup(roomCode)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return false
	}
	fn(r)
	return true
}

// withRoomRead runs fn under the room's read lock
func (reg *Registry) withRoomRead(roomCode string, fn func(r *room)) bool {
	r := reg.lookup(roomCode)
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return false
	}
	fn(r)
	return true
}

// Members lists the members of a room; nil if the room does not exist
func (reg *Registry) Members(roomCode string) []models.RoomMember {
	var out []models.RoomMember
	reg.withRoomRead(roomCode, func(r *room) {
		out = make([]models.RoomMember, 0, len(r.members))
		for id, m := range r.members {
			out = append(out, models.RoomMember{ConnectionID: id, Username: m.presence.Username})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// Lookup reports whether a room exists and how many members it has
func (reg *Registry) Lookup(roomCode string) (int, bool) {
	count := 0
	ok := reg.withRoomRead(roomCode, func(r *room) {
		count = len(r.members)
	})
	return count, ok
}

// Username returns the join-time username of a member
func (reg *Registry) Username(roomCode, id string) (string, bool) {
	var (
		name  string
		found bool
	)
	reg.withRoomRead(roomCode, func(r *room) {
		if m, ok := r.members[id]; ok {
			name, found = m.presence.Username, true
		}
	})
	return name, found
}

// RoomCount returns the number of live rooms
func (reg *Registry) RoomCount() int {
	return len(reg.ActiveRooms())
}

// ActiveRooms returns room code -> member count for every live room
func (reg *Registry) ActiveRooms() map[string]int {
	reg.mu.RLock()
	rooms := make([]*room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	active := make(map[string]int, len(rooms))
	for _, r := range rooms {
		r.mu.RLock()
		if !r.closed.Load() && len(r.members) > 0 {
			active[r.code] = len(r.members)
		}
		r.mu.RUnlock()
	}
	return active
}
