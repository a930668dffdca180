package collaboration

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"canvas-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinCreatesRoomAndLeaveDeletesIt(t *testing.T) {
	obs := &recordingObserver{}
	reg := NewRegistry(WithRoomObserver(obs))

	res, err := reg.Join("c1", "abc", "ann", newTestPeer("c1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.RoomCode)
	assert.Equal(t, 1, res.Members)

	_, err = reg.Join("c2", "abc", "bob", newTestPeer("c2"), nil)
	require.NoError(t, err)

	count, ok := reg.Lookup("abc")
	require.True(t, ok)
	assert.Equal(t, 2, count)
	assert.Equal(t, []models.RoomMember{
		{ConnectionID: "c1", Username: "ann"},
		{ConnectionID: "c2", Username: "bob"},
	}, reg.Members("abc"))
	assert.Equal(t, map[string]int{"abc": 2}, reg.ActiveRooms())

	assert.True(t, reg.Leave("c1", "abc"))
	assert.False(t, reg.Leave("c1", "abc"), "second leave is a no-op")
	assert.True(t, reg.Leave("c2", "abc"))

	_, ok = reg.Lookup("abc")
	assert.False(t, ok, "empty room is deleted")
	assert.Zero(t, reg.RoomCount())
	assert.Nil(t, reg.Members("abc"))

	assert.Equal(t, []string{
		"opened:abc",
		"joined:abc:c1",
		"joined:abc:c2",
		"left:abc:c1",
		"left:abc:c2",
		"closed:abc",
	}, obs.snapshot())
}

func TestRegistry_SecondJoinRejected(t *testing.T) {
	reg := NewRegistry()
	peer := newTestPeer("c1")

	_, err := reg.Join("c1", "abc", "ann", peer, nil)
	require.NoError(t, err)

	_, err = reg.Join("c1", "abc", "ann", peer, nil)
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	count, _ := reg.Lookup("abc")
	assert.Equal(t, 1, count)
}

func TestRegistry_SameCodeAfterEmptyIsFreshRoom(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Join("c1", "abc", "ann", newTestPeer("c1"), nil)
	require.NoError(t, err)
	require.True(t, reg.Leave("c1", "abc"))

	res, err := reg.Join("c2", "abc", "bob", newTestPeer("c2"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Members)
	assert.Equal(t, []models.RoomMember{{ConnectionID: "c2", Username: "bob"}}, reg.Members("abc"))
}

func TestRegistry_GreetSeesOthersPresence(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Join("c1", "abc", "ann", newTestPeer("c1"), nil)
	require.NoError(t, err)
	_, err = reg.Join("c2", "abc", "bob", newTestPeer("c2"), nil)
	require.NoError(t, err)

	reg.withRoom("abc", func(r *room) {
		r.members["c1"].presence.X = 10
		r.members["c1"].presence.Y = 20
		r.members["c1"].presence.HasPosition = true
	})

	var greeted JoinResult
	res, err := reg.Join("c3", "abc", "cat", newTestPeer("c3"), func(jr JoinResult) {
		greeted = jr
	})
	require.NoError(t, err)

	assert.Equal(t, res, greeted)
	assert.Equal(t, 3, greeted.Members)
	require.Len(t, greeted.Presence, 1, "only members with a position are included")
	assert.Equal(t, "c1", greeted.Presence[0].ConnectionID)
	assert.Equal(t, "ann", greeted.Presence[0].Username)
	assert.Equal(t, 10.0, greeted.Presence[0].X)
}

func TestRegistry_CapacityPolicy(t *testing.T) {
	reg := NewRegistry(WithAdmissionPolicy(CapacityPolicy(2)))

	for _, id := range []string{"c1", "c2"} {
		_, err := reg.Join(id, "abc", id, newTestPeer(id), nil)
		require.NoError(t, err)
	}

	_, err := reg.Join("c3", "abc", "c3", newTestPeer("c3"), nil)
	assert.ErrorIs(t, err, ErrRoomFull)

	count, _ := reg.Lookup("abc")
	assert.Equal(t, 2, count)

	unlimited := NewRegistry(WithAdmissionPolicy(CapacityPolicy(0)))
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("c%d", i)
		_, err := unlimited.Join(id, "abc", id, newTestPeer(id), nil)
		require.NoError(t, err)
	}
}

func TestRegistry_RejectedJoinLeavesNoEmptyRoom(t *testing.T) {
	obs := &recordingObserver{}
	deny := errors.New("closed for maintenance")
	reg := NewRegistry(
		WithRoomObserver(obs),
		WithAdmissionPolicy(func(string, int) error { return deny }),
	)

	_, err := reg.Join("c1", "abc", "ann", newTestPeer("c1"), nil)
	assert.ErrorIs(t, err, deny)
	assert.Zero(t, reg.RoomCount())
	assert.Equal(t, []string{"opened:abc", "closed:abc"}, obs.snapshot())
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			room := fmt.Sprintf("room-%d", i%5)
			for n := 0; n < 20; n++ {
				_, err := reg.Join(id, room, id, newTestPeer(id), nil)
				if !assert.NoError(t, err) {
					return
				}
				assert.True(t, reg.Leave(id, room))
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, reg.RoomCount())
	assert.Empty(t, reg.ActiveRooms())
}

func TestRegistry_ObserverSeesRoomLifecyclesInOrder(t *testing.T) {
	obs := &recordingObserver{}
	reg := NewRegistry(WithRoomObserver(obs))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				_, err := reg.Join(id, "abc", id, newTestPeer(id), nil)
				if !assert.NoError(t, err) {
					return
				}
				reg.Leave(id, "abc")
			}
		}(fmt.Sprintf("c%d", i))
	}
	wg.Wait()

	open := false
	members := map[string]bool{}
	for i, e := range obs.snapshot() {
		switch {
		case e == "opened:abc":
			require.False(t, open, "event %d: reopened before close", i)
			open = true
		case e == "closed:abc":
			require.True(t, open, "event %d: closed twice", i)
			require.Empty(t, members, "event %d: closed with members", i)
			open = false
		case strings.HasPrefix(e, "joined:abc:"):
			require.True(t, open, "event %d: join outside an open room", i)
			members[e[len("joined:abc:"):]] = true
		case strings.HasPrefix(e, "left:abc:"):
			require.True(t, open, "event %d: leave outside an open room", i)
			delete(members, e[len("left:abc:"):])
		}
	}
	assert.False(t, open)
}

func TestRegistry_UsernameLookup(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Join("c1", "abc", "ann", newTestPeer("c1"), nil)
	require.NoError(t, err)

	name, ok := reg.Username("abc", "c1")
	assert.True(t, ok)
	assert.Equal(t, "ann", name)

	_, ok = reg.Username("abc", "c2")
	assert.False(t, ok)
	_, ok = reg.Username("xyz", "c1")
	assert.False(t, ok)
}
