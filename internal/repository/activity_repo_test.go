package repository

import (
	"context"
	"testing"
	"time"

	"canvas-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.RoomActivity{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

func TestActivityRepository_StoreAndList(t *testing.T) {
	repo := NewActivityRepository(newTestDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	events := []*models.RoomActivity{
		{RoomCode: "abc", Kind: models.ActivityRoomOpened, CreatedAt: base},
		{RoomCode: "abc", Kind: models.ActivityMemberJoined, ConnectionID: "c1", Username: "ann", MemberCount: 1, CreatedAt: base.Add(time.Second)},
		{RoomCode: "xyz", Kind: models.ActivityRoomOpened, CreatedAt: base.Add(2 * time.Second)},
		{RoomCode: "abc", Kind: models.ActivityMemberLeft, ConnectionID: "c1", Username: "ann", CreatedAt: base.Add(3 * time.Second)},
	}
	for _, e := range events {
		require.NoError(t, repo.Store(ctx, e))
		assert.Len(t, e.ID, 27, "ksuid assigned on create")
	}

	got, err := repo.ListByRoom(ctx, "abc", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, models.ActivityMemberLeft, got[0].Kind)
	assert.Equal(t, models.ActivityRoomOpened, got[2].Kind)

	limited, err := repo.ListByRoom(ctx, "abc", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.ListByRoom(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestActivityRepository_CountByKind(t *testing.T) {
	repo := NewActivityRepository(newTestDB(t))
	ctx := context.Background()

	for _, code := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Store(ctx, &models.RoomActivity{RoomCode: code, Kind: models.ActivityRoomOpened}))
	}
	require.NoError(t, repo.Store(ctx, &models.RoomActivity{RoomCode: "a", Kind: models.ActivityRoomClosed}))

	opened, err := repo.CountByKind(ctx, models.ActivityRoomOpened)
	require.NoError(t, err)
	assert.Equal(t, int64(3), opened)

	closed, err := repo.CountByKind(ctx, models.ActivityRoomClosed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)
}

func TestActivityRepository_DeleteOlderThan(t *testing.T) {
	repo := NewActivityRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Store(ctx, &models.RoomActivity{RoomCode: "r", Kind: models.ActivityRoomOpened, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, repo.Store(ctx, &models.RoomActivity{RoomCode: "r", Kind: models.ActivityMemberJoined, CreatedAt: now.Add(-47 * time.Hour)}))
	require.NoError(t, repo.Store(ctx, &models.RoomActivity{RoomCode: "r", Kind: models.ActivityMemberLeft, CreatedAt: now}))

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	left, err := repo.ListByRoom(ctx, "r", 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, models.ActivityMemberLeft, left[0].Kind)
}
