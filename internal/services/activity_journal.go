package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"canvas-relay/internal/models"
)

/*
ACTIVITY JOURNAL WORKER POOL

Room lifecycle callbacks run on the relay's hot path, so they only enqueue.
A fixed set of workers drains the bounded queue into the repository. When
the queue is full the event is dropped and counted; the relay never waits
on the database.

A sweeper deletes events older than the retention window once per interval.
*/

// ErrJournalClosed is returned by Record after Shutdown
var ErrJournalClosed = errors.New("activity journal is shut down")

const storeTimeout = 5 * time.Second

// ActivityJournal records room lifecycle events through a worker pool
type ActivityJournal struct {
	repo ActivityRepository

	mu      sync.RWMutex // guards closing jobs
	jobs    chan *models.RoomActivity
	closed  bool
	workers int
	wg      sync.WaitGroup

	retention  time.Duration
	sweepEvery time.Duration
	stopSweep  context.CancelFunc
	sweepDone  chan struct{}

	dropped atomic.Uint64
	stored  atomic.Uint64
}

func NewActivityJournal(repo ActivityRepository, numWorkers, queueSize int, retention time.Duration) *ActivityJournal {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &ActivityJournal{
		repo:       repo,
		jobs:       make(chan *models.RoomActivity, queueSize),
		workers:    numWorkers,
		retention:  retention,
		sweepEvery: time.Hour,
	}
}

// Start spawns the workers and the retention sweeper
func (j *ActivityJournal) Start() {
	log.Printf("🔧 Starting activity journal with %d workers", j.workers)

	for i := 0; i < j.workers; i++ {
		j.wg.Add(1)
		go j.worker(i)
	}

	if j.retention > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		j.stopSweep = cancel
		j.sweepDone = make(chan struct{})
		go j.sweepLoop(ctx)
	}

	log.Println("✓ Activity journal started")
}

func (j *ActivityJournal) worker(id int) {
	defer j.wg.Done()

	for activity := range j.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := j.repo.Store(ctx, activity); err != nil {
			log.Printf("  Journal worker %d error: %v", id, err)
		} else {
			j.stored.Add(1)
		}
		cancel()
	}
}

// Record enqueues an event without blocking
func (j *ActivityJournal) Record(activity *models.RoomActivity) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ErrJournalClosed
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}

	select {
	case j.jobs <- activity:
		return nil
	default:
		n := j.dropped.Add(1)
		if n%100 == 1 {
			log.Printf("⚠️  Activity journal queue full, dropped %d events so far", n)
		}
		return fmt.Errorf("activity journal queue full")
	}
}

// RoomOpened, MemberJoined, MemberLeft and RoomClosed let the journal
// observe a room registry.

func (j *ActivityJournal) RoomOpened(roomCode string) {
	_ = j.Record(&models.RoomActivity{RoomCode: roomCode, Kind: models.ActivityRoomOpened})
}

func (j *ActivityJournal) MemberJoined(roomCode, connectionID, username string, members int) {
	_ = j.Record(&models.RoomActivity{
		RoomCode:     roomCode,
		Kind:         models.ActivityMemberJoined,
		ConnectionID: connectionID,
		Username:     username,
		MemberCount:  members,
	})
}

func (j *ActivityJournal) MemberLeft(roomCode, connectionID, username string, members int) {
	_ = j.Record(&models.RoomActivity{
		RoomCode:     roomCode,
		Kind:         models.ActivityMemberLeft,
		ConnectionID: connectionID,
		Username:     username,
		MemberCount:  members,
	})
}

func (j *ActivityJournal) RoomClosed(roomCode string) {
	_ = j.Record(&models.RoomActivity{RoomCode: roomCode, Kind: models.ActivityRoomClosed})
}

// List returns the newest events of a room
func (j *ActivityJournal) List(ctx context.Context, roomCode string, limit int) ([]*models.RoomActivity, error) {
	return j.repo.ListByRoom(ctx, roomCode, limit)
}

func (j *ActivityJournal) sweepLoop(ctx context.Context) {
	defer close(j.sweepDone)

	ticker := time.NewTicker(j.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				log.Printf("⚠️  Activity retention sweep failed: %v", err)
			}
		}
	}
}

// Sweep deletes events older than the retention window
func (j *ActivityJournal) Sweep(ctx context.Context) (int64, error) {
	deleted, err := j.repo.DeleteOlderThan(ctx, time.Now().Add(-j.retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Printf("  Removed %d activity events older than %s", deleted, j.retention)
	}
	return deleted, nil
}

// Shutdown stops accepting events and waits for queued ones to be stored
func (j *ActivityJournal) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down activity journal...")

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.jobs)
	j.mu.Unlock()

	if j.stopSweep != nil {
		j.stopSweep()
		<-j.sweepDone
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("✓ Activity journal shutdown complete (stored: %d, dropped: %d)", j.stored.Load(), j.dropped.Load())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("activity journal drain interrupted: %w", ctx.Err())
	}
}

// GetQueueLength returns the number of events waiting to be stored
func (j *ActivityJournal) GetQueueLength() int {
	return len(j.jobs)
}

// Dropped returns how many events were discarded on a full queue
func (j *ActivityJournal) Dropped() uint64 {
	return j.dropped.Load()
}
