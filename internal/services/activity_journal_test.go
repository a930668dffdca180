package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"canvas-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryActivityRepo struct {
	mu      sync.Mutex
	stored  []*models.RoomActivity
	block   chan struct{}
	cutoffs []time.Time
}

func (r *memoryActivityRepo) Store(ctx context.Context, a *models.RoomActivity) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, a)
	return nil
}

func (r *memoryActivityRepo) ListByRoom(ctx context.Context, roomCode string, limit int) ([]*models.RoomActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RoomActivity
	for _, a := range r.stored {
		if a.RoomCode == roomCode {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryActivityRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, cutoff)
	kept := r.stored[:0]
	var deleted int64
	for _, a := range r.stored {
		if a.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	r.stored = kept
	return deleted, nil
}

func (r *memoryActivityRepo) kinds() []models.ActivityKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ActivityKind, 0, len(r.stored))
	for _, a := range r.stored {
		out = append(out, a.Kind)
	}
	return out
}

func TestActivityJournal_RecordsLifecycle(t *testing.T) {
	repo := &memoryActivityRepo{}
	j := NewActivityJournal(repo, 1, 16, time.Hour)
	j.Start()

	j.RoomOpened("abc")
	j.MemberJoined("abc", "c1", "ann", 1)
	j.MemberLeft("abc", "c1", "ann", 0)
	j.RoomClosed("abc")

	require.NoError(t, j.Shutdown(context.Background()))

	assert.Equal(t, []models.ActivityKind{
		models.ActivityRoomOpened,
		models.ActivityMemberJoined,
		models.ActivityMemberLeft,
		models.ActivityRoomClosed,
	}, repo.kinds())

	listed, err := j.List(context.Background(), "abc", 10)
	require.NoError(t, err)
	require.Len(t, listed, 4)
	assert.Equal(t, "ann", listed[1].Username)
	assert.Equal(t, 1, listed[1].MemberCount)
	assert.False(t, listed[0].CreatedAt.IsZero())
}

func TestActivityJournal_DropsWhenFull(t *testing.T) {
	repo := &memoryActivityRepo{block: make(chan struct{})}
	j := NewActivityJournal(repo, 1, 2, 0)
	j.Start()

	// One event is held by the blocked worker, two fill the queue.
	require.NoError(t, j.Record(&models.RoomActivity{RoomCode: "r", Kind: models.ActivityRoomOpened}))
	require.Eventually(t, func() bool { return j.GetQueueLength() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, j.Record(&models.RoomActivity{RoomCode: "r", Kind: models.ActivityMemberJoined}))
	require.NoError(t, j.Record(&models.RoomActivity{RoomCode: "r", Kind: models.ActivityMemberJoined}))

	err := j.Record(&models.RoomActivity{RoomCode: "r", Kind: models.ActivityMemberLeft})
	assert.Error(t, err)
	assert.Equal(t, uint64(1), j.Dropped())

	close(repo.block)
	require.NoError(t, j.Shutdown(context.Background()))
	assert.Len(t, repo.kinds(), 3)
}

func TestActivityJournal_RecordAfterShutdown(t *testing.T) {
	j := NewActivityJournal(&memoryActivityRepo{}, 1, 4, 0)
	j.Start()
	require.NoError(t, j.Shutdown(context.Background()))
	require.NoError(t, j.Shutdown(context.Background()), "shutdown is idempotent")

	err := j.Record(&models.RoomActivity{RoomCode: "r", Kind: models.ActivityRoomOpened})
	assert.True(t, errors.Is(err, ErrJournalClosed))
}

func TestActivityJournal_Sweep(t *testing.T) {
	repo := &memoryActivityRepo{stored: []*models.RoomActivity{
		{RoomCode: "r", Kind: models.ActivityRoomOpened, CreatedAt: time.Now().Add(-3 * time.Hour)},
		{RoomCode: "r", Kind: models.ActivityRoomClosed, CreatedAt: time.Now()},
	}}
	j := NewActivityJournal(repo, 1, 4, time.Hour)

	deleted, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, []models.ActivityKind{models.ActivityRoomClosed}, repo.kinds())
	require.Len(t, repo.cutoffs, 1)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), repo.cutoffs[0], 5*time.Second)
}
