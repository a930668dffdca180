package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Connection is the gateway's record of one live client
type Connection struct {
	ID           string    `json:"id"`
	RoomCode     string    `json:"room_code,omitempty"` // set once, at join
	Username     string    `json:"username,omitempty"`  // set once, at join
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// PresenceEntry is the last-known cursor state of one connection in a room
type PresenceEntry struct {
	ConnectionID string    `json:"connectionId"`
	Username     string    `json:"username"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	IsActive     bool      `json:"isActive"`
	HasPosition  bool      `json:"-"` // false until the first cursor update
	UpdatedAt    time.Time `json:"-"`
}

// ChatMessage is immutable once created and never stored server-side
type ChatMessage struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
	Text         string `json:"text"`
	SentAt       int64  `json:"sentAt"` // unix millis, server clock
}

// RoomMember is one entry of a room's membership listing
type RoomMember struct {
	ConnectionID string `json:"connection_id"`
	Username     string `json:"username"`
}

// NewConnectionID allocates a process-unique, time-ordered identity
func NewConnectionID() string {
	return ksuid.New().String()
}

func NewConnection(remoteAddr string) *Connection {
	now := time.Now()
	return &Connection{
		ID:           NewConnectionID(),
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}

func NewChatMessage(connectionID, username, text string) *ChatMessage {
	return &ChatMessage{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Username:     username,
		Text:         text,
		SentAt:       NowMillis(),
	}
}
