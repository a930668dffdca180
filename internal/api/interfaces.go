package api

import (
	"context"

	"canvas-relay/internal/models"
	"canvas-relay/internal/services"
	"canvas-relay/internal/services/collaboration"
)

// Handlers depend on the narrow views below, not on the concrete services.

// RoomDirectory is the read side of the room registry
type RoomDirectory interface {
	ActiveRooms() map[string]int
	Members(roomCode string) []models.RoomMember
	Lookup(roomCode string) (int, bool)
}

// PresenceView exposes presence snapshots
type PresenceView interface {
	Snapshot(roomCode string) []models.PresenceEntry
}

// ConnectionCounter reports live connections and their outbound queues
type ConnectionCounter interface {
	Count() int
	Outbound() collaboration.OutboundStats
}

// ActivityJournal is the optional membership history
type ActivityJournal interface {
	List(ctx context.Context, roomCode string, limit int) ([]*models.RoomActivity, error)
	GetQueueLength() int
	Dropped() uint64
}

// DiagramGenerator is the optional AI diagram boundary
type DiagramGenerator interface {
	Generate(ctx context.Context, description string) (*services.Diagram, error)
}
