package services

import (
	"context"
	"time"

	"canvas-relay/internal/models"
	"canvas-relay/internal/openai"
)

// Interfaces are declared here, next to the services that consume them.

// ActivityRepository is what the journal needs from storage
type ActivityRepository interface {
	Store(ctx context.Context, activity *models.RoomActivity) error
	ListByRoom(ctx context.Context, roomCode string, limit int) ([]*models.RoomActivity, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChatCompleter is what diagram generation needs from a language model
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, messages []openai.Message, temperature float64) (*openai.Completion, error)
}
