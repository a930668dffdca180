package collaboration

import "errors"

var (
	ErrAlreadyJoined     = errors.New("connection already joined a room")
	ErrNotJoined         = errors.New("connection has not joined a room")
	ErrRoomFull          = errors.New("room is full")
	ErrSnapshotTooLarge  = errors.New("document snapshot exceeds size limit")
	ErrMalformed         = errors.New("malformed message")
	ErrQueueFull         = errors.New("outbound queue full")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrUnknownConnection = errors.New("unknown connection")
)
