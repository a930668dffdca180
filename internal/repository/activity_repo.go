package repository

import (
	"context"
	"fmt"
	"time"

	"canvas-relay/internal/models"

	"gorm.io/gorm"
)

// ActivityRepositoryImpl stores room lifecycle events
type ActivityRepositoryImpl struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepositoryImpl {
	return &ActivityRepositoryImpl{db: db}
}

// Store inserts one event
func (r *ActivityRepositoryImpl) Store(ctx context.Context, activity *models.RoomActivity) error {
	if err := r.db.WithContext(ctx).Create(activity).Error; err != nil {
		return fmt.Errorf("failed to store room activity: %w", err)
	}
	return nil
}

// ListByRoom returns the newest events of a room first
func (r *ActivityRepositoryImpl) ListByRoom(ctx context.Context, roomCode string, limit int) ([]*models.RoomActivity, error) {
	if limit <= 0 {
		limit = 100
	}

	var activities []*models.RoomActivity
	err := r.db.WithContext(ctx).
		Where("room_code = ?", roomCode).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&activities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list room activity: %w", err)
	}

	return activities, nil
}

// CountByKind counts events of one kind across all rooms
func (r *ActivityRepositoryImpl) CountByKind(ctx context.Context, kind models.ActivityKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RoomActivity{}).
		Where("kind = ?", kind).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count room activity: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes events created before cutoff and returns how many
func (r *ActivityRepositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.RoomActivity{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old room activity: %w", result.Error)
	}
	return result.RowsAffected, nil
}
