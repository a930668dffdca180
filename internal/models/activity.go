package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
ROOM ACTIVITY JOURNAL

Membership lifecycle events, one row each. Only who/when is recorded,
never document snapshots or chat text, and nothing is read back into a
live room.

Flow:
  Registry join/leave → ActivityJournal.Record (non-blocking)
  → worker → ActivityRepository.Store
*/

// ActivityKind names a lifecycle event
type ActivityKind string

const (
	ActivityRoomOpened   ActivityKind = "room_opened"
	ActivityMemberJoined ActivityKind = "member_joined"
	ActivityMemberLeft   ActivityKind = "member_left"
	ActivityRoomClosed   ActivityKind = "room_closed"
)

// RoomActivity stores a single membership event
type RoomActivity struct {
	ID           string       `gorm:"type:varchar(27);primaryKey" json:"id"`
	RoomCode     string       `gorm:"type:varchar(128);not null;index:idx_room_time" json:"room_code"`
	Kind         ActivityKind `gorm:"type:varchar(32);not null;index" json:"kind"`
	ConnectionID string       `gorm:"type:varchar(27)" json:"connection_id,omitempty"`
	Username     string       `gorm:"type:varchar(100)" json:"username,omitempty"`
	MemberCount  int          `gorm:"not null;default:0" json:"member_count"`
	CreatedAt    time.Time    `gorm:"index:idx_room_time" json:"created_at"`
}

// BeforeCreate generates KSUID
func (a *RoomActivity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (RoomActivity) TableName() string {
	return "room_activities"
}
