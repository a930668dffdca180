package collaboration

import (
	"context"
	"errors"
	"sync"
	"time"

	"canvas-relay/internal/models"

	"golang.org/x/time/rate"
)

// PresenceTracker keeps the last cursor state of each room member and
// broadcasts changes to the rest of the room.
//
// Updates from one connection pass through a token bucket. An update over
// budget is held as the pending latest value and flushed when the next token
// is available, so peers always end on the sender's final position and never
// see positions out of send order.
type PresenceTracker struct {
	registry *Registry
	relay    *Relay
	limit    rate.Limit
	burst    int

	mu         sync.Mutex
	coalescers map[string]*coalescer
}

type cursorState struct {
	roomCode string
	x, y     float64
	isActive bool
}

type coalescer struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	pending *cursorState
	timer   *time.Timer
	stopped bool
}

// NewPresenceTracker creates a tracker that publishes at most perSecond
// cursor updates per connection; perSecond <= 0 disables coalescing.
func NewPresenceTracker(registry *Registry, relay *Relay, perSecond int) *PresenceTracker {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = perSecond / 10
		if burst < 1 {
			burst = 1
		}
	}
	return &PresenceTracker{
		registry:   registry,
		relay:      relay,
		limit:      limit,
		burst:      burst,
		coalescers: make(map[string]*coalescer),
	}
}

func (p *PresenceTracker) coalescerFor(id string) *coalescer {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.coalescers[id]
	if !ok {
		c = &coalescer{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.coalescers[id] = c
	}
	return c
}

// UpdateCursor overwrites the presence entry of id and broadcasts it
func (p *PresenceTracker) UpdateCursor(ctx context.Context, id, roomCode string, x, y float64, isActive bool) error {
	if _, ok := p.registry.Username(roomCode, id); !ok {
		return ErrNotJoined
	}

	state := &cursorState{roomCode: roomCode, x: x, y: y, isActive: isActive}
	c := p.coalescerFor(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrConnectionClosed
	}

	if c.timer != nil {
		// A flush is already scheduled; it will carry this newer value.
		c.pending = state
		return nil
	}

	if c.limiter.Allow() {
		err := p.publish(ctx, id, state)
		if errors.Is(err, ErrNotJoined) {
			// Left between the membership check and the publish.
			c.stopped = true
			p.forget(id, c)
		}
		return err
	}

	c.pending = state
	delay := c.limiter.Reserve().Delay()
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		pending := c.pending
		c.pending = nil
		c.timer = nil
		if pending == nil || c.stopped {
			return
		}
		if errors.Is(p.publish(context.Background(), id, pending), ErrNotJoined) {
			c.stopped = true
			p.forget(id, c)
		}
	})
	return nil
}

// publish applies state and fans it out under the room lock
func (p *PresenceTracker) publish(ctx context.Context, id string, state *cursorState) error {
	var (
		frame  Frame
		err    error
		member bool
	)
	p.registry.withRoom(state.roomCode, func(r *room) {
		m, ok := r.members[id]
		if !ok {
			return
		}
		member = true

		m.presence.X = state.x
		m.presence.Y = state.y
		m.presence.IsActive = state.isActive
		m.presence.HasPosition = true
		m.presence.UpdatedAt = time.Now()

		frame, err = NewFrame(id, models.MessageTypeCursorUpdate, m.presence)
		if err != nil {
			return
		}
		p.relay.fanoutLocked(r, id, frame)
	})
	if err != nil {
		return err
	}
	if !member {
		return ErrNotJoined
	}

	p.relay.publishRemote(ctx, state.roomCode, id, frame)
	return nil
}

// RemoveConnection deletes the presence entry of id and tells the remaining
// members it is gone. Exactly one removal notice is sent per membership.
func (p *PresenceTracker) RemoveConnection(ctx context.Context, id, roomCode string) bool {
	p.stop(id)

	var frame Frame
	var encoded bool
	removed := p.registry.leave(id, roomCode, func(r *room) {
		f, err := NewFrame(id, models.MessageTypePresenceRemoved, models.PresenceRemovedPayload{ConnectionID: id})
		if err != nil {
			return
		}
		frame, encoded = f, true
		p.relay.fanoutLocked(r, id, f)
	})

	// An update racing the leave may have created a new coalescer.
	p.stop(id)

	if encoded {
		p.relay.publishRemote(ctx, roomCode, id, frame)
	}
	return removed
}

// Snapshot returns the entries of members that have reported a position
func (p *PresenceTracker) Snapshot(roomCode string) []models.PresenceEntry {
	var entries []models.PresenceEntry
	p.registry.withRoomRead(roomCode, func(r *room) {
		entries = r.presenceLocked("")
	})
	return entries
}

func (p *PresenceTracker) forget(id string, c *coalescer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.coalescers[id] == c {
		delete(p.coalescers, id)
	}
}

func (p *PresenceTracker) stop(id string) {
	p.mu.Lock()
	c, ok := p.coalescers[id]
	delete(p.coalescers, id)
	p.mu.Unlock()

	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
