package collaboration

import (
	"sync"

	"canvas-relay/internal/models"
)

// DeliveryClass decides what may happen to a frame when a peer falls behind
type DeliveryClass int

const (
	// ClassReliable frames are never dropped. Overflow disconnects the peer.
	ClassReliable DeliveryClass = iota
	// ClassPresence frames are ordered with cursor updates but never dropped.
	ClassPresence
	// ClassDroppable frames (cursor updates) are evicted oldest-first.
	ClassDroppable
)

// ClassOf maps a message type to its delivery class
func ClassOf(msgType models.MessageType) DeliveryClass {
	switch msgType {
	case models.MessageTypeCursorUpdate:
		return ClassDroppable
	case models.MessageTypePresenceRemoved, models.MessageTypePresenceSync:
		return ClassPresence
	default:
		return ClassReliable
	}
}

// Frame is one encoded envelope queued for a peer
type Frame struct {
	Type  models.MessageType
	Data  []byte
	Class DeliveryClass
	Key   string // sender connection id; newer frames with the same key supersede older droppable ones
}

// Outbox is a bounded FIFO of outbound frames for one connection.
//
// All frames share one queue so a peer observes each sender's messages in
// send order. When the queue or the droppable budget is exhausted, the oldest
// droppable frame is evicted, preferring one that a newer frame from the same
// sender supersedes. If nothing can be evicted the push fails with
// ErrQueueFull and the caller treats the peer as gone.
type Outbox struct {
	mu          sync.Mutex
	frames      []Frame
	limit       int
	presenceCap int
	droppable   int
	dropped     uint64
	closed      bool

	ready chan struct{}
	done  chan struct{}
}

// NewOutbox creates an outbox holding at most limit frames, of which at most
// presenceCap may be droppable.
func NewOutbox(limit, presenceCap int) *Outbox {
	if limit <= 0 {
		limit = 1
	}
	if presenceCap <= 0 || presenceCap > limit {
		presenceCap = limit
	}
	return &Outbox{
		frames:      make([]Frame, 0, limit),
		limit:       limit,
		presenceCap: presenceCap,
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Push enqueues a frame without blocking
func (o *Outbox) Push(f Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrConnectionClosed
	}

	if f.Class == ClassDroppable && o.droppable >= o.presenceCap {
		if !o.evictLocked(f.Key) {
			return ErrQueueFull
		}
	}
	if len(o.frames) >= o.limit {
		if !o.evictLocked(f.Key) {
			return ErrQueueFull
		}
	}

	o.frames = append(o.frames, f)
	if f.Class == ClassDroppable {
		o.droppable++
	}

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// evictLocked removes one droppable frame. A frame superseded by the incoming
// key (or by any later frame with its own key) goes first.
func (o *Outbox) evictLocked(incomingKey string) bool {
	victim := -1
	for i, f := range o.frames {
		if f.Class != ClassDroppable {
			continue
		}
		if f.Key == incomingKey || o.supersededLocked(i) {
			victim = i
			break
		}
		if victim == -1 {
			victim = i
		}
	}
	if victim == -1 {
		return false
	}

	o.frames = append(o.frames[:victim], o.frames[victim+1:]...)
	o.droppable--
	o.dropped++
	return true
}

func (o *Outbox) supersededLocked(i int) bool {
	key := o.frames[i].Key
	for _, later := range o.frames[i+1:] {
		if later.Class == ClassDroppable && later.Key == key {
			return true
		}
	}
	return false
}

// Drain removes and returns every queued frame in order
func (o *Outbox) Drain() []Frame {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.frames) == 0 {
		return nil
	}
	out := o.frames
	o.frames = make([]Frame, 0, o.limit)
	o.droppable = 0
	return out
}

// Ready fires after one or more pushes
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Done is closed once the outbox is closed
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Close discards queued frames and rejects further pushes
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	o.frames = nil
	o.droppable = 0
	close(o.done)
}

// Len returns the number of queued frames
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

// Dropped returns how many droppable frames were evicted
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
