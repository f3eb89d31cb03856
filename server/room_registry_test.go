package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate_Concurrent(t *testing.T) {
	registry, _ := newTestRegistry()

	const workers = 32
	rooms := make(chan *Room, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rooms <- registry.getOrCreate("ABC123")
		}()
	}
	wg.Wait()
	close(rooms)

	first := <-rooms
	require.NotNil(t, first)
	for room := range rooms {
		assert.Same(t, first, room, "every caller must observe the same room instance")
	}
}

func TestGetOrCreate_DistinctCodes(t *testing.T) {
	registry, _ := newTestRegistry()

	a := registry.getOrCreate("AAAAAA")
	b := registry.getOrCreate("BBBBBB")

	assert.NotSame(t, a, b)
	assert.Same(t, a, registry.get("AAAAAA"))
	assert.Same(t, b, registry.get("BBBBBB"))
}

func TestJoin_CreatesRoomAndBroadcasts(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	alice := newMockSession("user-1", "alice")

	require.NoError(t, registry.Join(alice, "ABC123"))

	room := registry.get("ABC123")
	require.NotNil(t, room)
	assert.Equal(t, PhaseWaiting, room.Phase())
	assert.Equal(t, 1, room.MemberCount())
	assert.Equal(t, "ABC123", alice.RoomCode())

	require.Equal(t, 1, broadcaster.count())
	joined, ok := broadcaster.last().event.(*RoomJoinedEvent)
	require.True(t, ok)
	assert.Equal(t, "user-1", joined.UserID)
	assert.Equal(t, "alice joined the room", joined.Message)
	require.Len(t, joined.Members, 1)
	assert.Equal(t, 0, joined.Members[0].Score)
}

func TestJoin_Unauthenticated(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	anonymous := newMockSession("", "")

	err := registry.Join(anonymous, "ABC123")

	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Nil(t, registry.get("ABC123"), "no room may be created for anonymous joins")
	assert.Zero(t, broadcaster.count())
}

func TestJoin_SnapshotPreservesJoinOrder(t *testing.T) {
	registry, broadcaster := newTestRegistry()

	for i := 1; i <= 3; i++ {
		s := newMockSession(fmt.Sprintf("user-%d", i), fmt.Sprintf("player%d", i))
		require.NoError(t, registry.Join(s, "ABC123"))
	}

	joined := broadcaster.last().event.(*RoomJoinedEvent)
	require.Len(t, joined.Members, 3)
	for i, member := range joined.Members {
		assert.Equal(t, fmt.Sprintf("user-%d", i+1), member.UserID)
	}
}

func TestJoin_RejoinPolicy(t *testing.T) {
	tests := []struct {
		name string
		allowReset bool
		wantScore int
	}{
		{name: "reset enabled wipes the prior score", allowReset: true, wantScore: 0},
		{name: "reset disabled keeps the prior score", allowReset: false, wantScore: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broadcaster := &recordingBroadcaster{}
			config := newTestConfig()
			config.RoomConfig.AllowRejoinReset = tt.allowReset
			registry := NewRoomRegistry(config, newTestLogger(), broadcaster, nil, nil, nil)

			alice := newMockSession("user-1", "alice")
			bob := newMockSession("user-2", "bob")
			require.NoError(t, registry.Join(alice, "ABC123"))
			require.NoError(t, registry.Join(bob, "ABC123"))
			require.NoError(t, registry.StartGame(alice, "ABC123"))
			require.NoError(t, registry.UpdateScore(alice, "ABC123", "user-2", 7, "small_gold"))

			rejoin := newMockSession("user-2", "bob")
			require.NoError(t, registry.Join(rejoin, "ABC123"))

			room := registry.get("ABC123")
			room.mu.Lock()
			score := room.members["user-2"].Score
			room.mu.Unlock()
			assert.Equal(t, tt.wantScore, score)
			assert.Equal(t, 2, room.MemberCount(), "rejoin must not duplicate the member")
		})
	}
}

func TestLeave_RemovesMemberAndBroadcasts(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "ABC123"))
	require.NoError(t, registry.Join(bob, "ABC123"))

	require.NoError(t, registry.Leave(alice, "ABC123"))

	assert.Equal(t, "", alice.RoomCode())
	room := registry.get("ABC123")
	require.NotNil(t, room)
	assert.Equal(t, 1, room.MemberCount())

	left, ok := broadcaster.last().event.(*RoomLeftEvent)
	require.True(t, ok)
	assert.Equal(t, "user-1", left.UserID)
	assert.Equal(t, "alice left the room", left.Message)
	require.Len(t, left.Members, 1)
	assert.Equal(t, "user-2", left.Members[0].UserID)
	assert.Equal(t, []string{"user-2"}, broadcaster.last().userIDs, "the leaver must not be a subscriber anymore")
}

func TestLeave_LastMemberDeletesRoomWithoutBroadcast(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	require.NoError(t, registry.Join(alice, "ABC123"))
	broadcastsAfterJoin := broadcaster.count()

	require.NoError(t, registry.Leave(alice, "ABC123"))

	assert.Nil(t, registry.get("ABC123"))
	assert.Equal(t, broadcastsAfterJoin, broadcaster.count(), "the final leave broadcast is suppressed")
}

func TestLeave_NotBound(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "ABC123"))

	err := registry.Leave(bob, "ABC123")

	assert.ErrorIs(t, err, ErrNotAMember)
	assert.Equal(t, 1, registry.get("ABC123").MemberCount())
}

func TestLeave_RoomGone(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	alice.SetRoomCode("ZZ9999")

	err := registry.Leave(alice, "ZZ9999")

	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, "", alice.RoomCode(), "a stale binding must be cleared")
}

func TestRemoveIfEmpty_NoOpWhileOccupied(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	require.NoError(t, registry.Join(alice, "ABC123"))

	registry.removeIfEmpty("ABC123")

	assert.NotNil(t, registry.get("ABC123"))
}

func TestStartGame_Transitions(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	require.NoError(t, registry.Join(alice, "ABC123"))

	require.NoError(t, registry.StartGame(alice, "ABC123"))
	room := registry.get("ABC123")
	assert.Equal(t, PhasePlaying, room.Phase())

	started, ok := broadcaster.last().event.(*GameStartedEvent)
	require.True(t, ok)
	assert.Equal(t, "ABC123", started.RoomCode)

	err := registry.StartGame(alice, "ABC123")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PhasePlaying, room.Phase(), "a rejected transition must not change the phase")
}

func TestStartGame_RoomNotFound(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")

	assert.ErrorIs(t, registry.StartGame(alice, "ZZ9999"), ErrRoomNotFound)
}

func TestUpdateScore_AccumulatesSignedPoints(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "ABC123"))
	require.NoError(t, registry.Join(bob, "ABC123"))
	require.NoError(t, registry.StartGame(alice, "ABC123"))

	for _, points := range []int{1, 4, 10, -3} {
		require.NoError(t, registry.UpdateScore(alice, "ABC123", "user-2", points, ""))
	}

	room := registry.get("ABC123")
	room.mu.Lock()
	score := room.members["user-2"].Score
	room.mu.Unlock()
	assert.Equal(t, 12, score)
}

func TestUpdateScore_PhaseGuards(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "ABC123"))
	require.NoError(t, registry.Join(bob, "ABC123"))

	err := registry.UpdateScore(alice, "ABC123", "user-2", 7, "small_gold")
	assert.ErrorIs(t, err, ErrInvalidTransition, "scoring is not allowed while waiting")

	require.NoError(t, registry.StartGame(alice, "ABC123"))
	require.NoError(t, registry.UpdateScore(alice, "ABC123", "user-2", 7, "small_gold"))
	require.NoError(t, registry.EndGame(alice, "ABC123", map[string]int{"user-1": 0, "user-2": 7}))

	err = registry.UpdateScore(alice, "ABC123", "user-2", 1, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "scoring is not allowed after the game ended")
}

func TestUpdateScore_RequiresMembership(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	mallory := newMockSession("user-3", "mallory")
	require.NoError(t, registry.Join(alice, "ABC123"))
	require.NoError(t, registry.StartGame(alice, "ABC123"))

	assert.ErrorIs(t, registry.UpdateScore(mallory, "ABC123", "user-1", 7, ""), ErrNotAMember)
	assert.ErrorIs(t, registry.UpdateScore(alice, "ABC123", "user-9", 7, ""), ErrNotAMember)

	room := registry.get("ABC123")
	room.mu.Lock()
	score := room.members["user-1"].Score
	room.mu.Unlock()
	assert.Zero(t, score, "a rejected update must not touch any score")
}

func TestEndGame_BroadcastsSnapshotVerbatim(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "ABC123"))
	require.NoError(t, registry.Join(bob, "ABC123"))
	require.NoError(t, registry.StartGame(alice, "ABC123"))
	require.NoError(t, registry.UpdateScore(alice, "ABC123", "user-2", 7, "small_gold"))

	//The snapshot deliberately disagrees with the live scores, it must be
	//forwarded untouched.
	snapshot := map[string]int{"user-1": 3, "user-2": 4}
	require.NoError(t, registry.EndGame(alice, "ABC123", snapshot))

	assert.Equal(t, PhaseEnded, registry.get("ABC123").Phase())
	ended, ok := broadcaster.last().event.(*GameEndedEvent)
	require.True(t, ok)
	assert.Equal(t, snapshot, ended.Scores)
}

func TestEndGame_FromWaiting(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	require.NoError(t, registry.Join(alice, "ABC123"))

	err := registry.EndGame(alice, "ABC123", map[string]int{})

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PhaseWaiting, registry.get("ABC123").Phase())
}

func TestDisconnect_Idempotent(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "ABC123"))
	require.NoError(t, registry.Join(bob, "ABC123"))

	registry.Disconnect(alice)
	broadcastsAfterFirst := broadcaster.count()
	registry.Disconnect(alice)

	assert.Equal(t, 1, registry.get("ABC123").MemberCount())
	assert.Equal(t, broadcastsAfterFirst, broadcaster.count(), "a second disconnect must do nothing")

	left, ok := broadcaster.last().event.(*RoomLeftEvent)
	require.True(t, ok)
	assert.Equal(t, "User user-1 disconnected", left.Message)
}

func TestDisconnect_LastMemberDeletesRoom(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	require.NoError(t, registry.Join(alice, "ABC123"))

	registry.Disconnect(alice)
	registry.Disconnect(alice)

	assert.Nil(t, registry.get("ABC123"))
}

func TestJoin_WhileBoundLeavesPriorRoom(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "AAAAAA"))
	require.NoError(t, registry.Join(bob, "AAAAAA"))

	require.NoError(t, registry.Join(alice, "BBBBBB"))

	assert.Equal(t, "BBBBBB", alice.RoomCode())
	prior := registry.get("AAAAAA")
	require.NotNil(t, prior)
	assert.Equal(t, 1, prior.MemberCount(), "the old room must not keep the switching member")

	routed := broadcaster.events()
	require.Len(t, routed, 4)
	left, ok := routed[2].event.(*RoomLeftEvent)
	require.True(t, ok, "the implicit leave must be broadcast before the join")
	assert.Equal(t, "user-1", left.UserID)
	assert.Equal(t, []string{"user-2"}, routed[2].userIDs)
	joined, ok := routed[3].event.(*RoomJoinedEvent)
	require.True(t, ok)
	assert.Equal(t, "user-1", joined.UserID)
}

func TestJoin_WhileBoundAlone(t *testing.T) {
	registry, _ := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	require.NoError(t, registry.Join(alice, "AAAAAA"))

	require.NoError(t, registry.Join(alice, "BBBBBB"))

	assert.Nil(t, registry.get("AAAAAA"), "the abandoned room must be deleted")
	require.NotNil(t, registry.get("BBBBBB"))
	assert.Equal(t, 1, registry.get("BBBBBB").MemberCount())
	assert.Equal(t, "BBBBBB", alice.RoomCode())
}

func TestDisconnect_StaleConnectionKeepsRejoinedMember(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	first := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(first, "ABC123"))
	require.NoError(t, registry.Join(bob, "ABC123"))

	//The user reconnects on a fresh socket and rejoins, then the old
	//socket's disconnect fires late.
	second := newMockSession("user-1", "alice")
	require.NoError(t, registry.Join(second, "ABC123"))
	broadcastsBefore := broadcaster.count()
	registry.Disconnect(first)

	assert.Equal(t, 2, registry.get("ABC123").MemberCount())
	assert.Equal(t, "ABC123", second.RoomCode())
	assert.Equal(t, "", first.RoomCode())
	assert.Equal(t, broadcastsBefore, broadcaster.count(), "the stale disconnect must not broadcast a leave")
}

func TestDisconnect_WithoutBinding(t *testing.T) {
	registry, broadcaster := newTestRegistry()

	registry.Disconnect(newMockSession("user-1", "alice"))
	registry.Disconnect(newMockSession("", ""))

	assert.Zero(t, broadcaster.count())
}

func TestBroadcastOrder_MatchesOperationOrder(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "ABC123"))
	require.NoError(t, registry.Join(bob, "ABC123"))
	require.NoError(t, registry.StartGame(alice, "ABC123"))
	require.NoError(t, registry.UpdateScore(alice, "ABC123", "user-2", 1, ""))
	require.NoError(t, registry.UpdateScore(alice, "ABC123", "user-2", 4, ""))
	require.NoError(t, registry.EndGame(alice, "ABC123", map[string]int{"user-2": 5}))

	var scores []int
	for _, routed := range broadcaster.events() {
		if updated, ok := routed.event.(*ScoreUpdatedEvent); ok {
			scores = append(scores, updated.NewScore)
		}
	}
	assert.Equal(t, []int{1, 5}, scores, "intermediate scores must appear in application order")
}

//The full flow from the product's acceptance scenario: two players, one
//start, one small-gold score, one final snapshot.
func TestScenario_TwoPlayerGame(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	creator := newMockSession("user-1", "host")
	guest := newMockSession("user-2", "guest")

	require.NoError(t, registry.Join(creator, "ABC123"))
	require.NoError(t, registry.Join(guest, "ABC123"))

	joined := broadcaster.last().event.(*RoomJoinedEvent)
	require.Len(t, joined.Members, 2)
	assert.Zero(t, joined.Members[0].Score)
	assert.Zero(t, joined.Members[1].Score)

	require.NoError(t, registry.StartGame(creator, "ABC123"))
	assert.Equal(t, PhasePlaying, registry.get("ABC123").Phase())

	require.NoError(t, registry.UpdateScore(creator, "ABC123", "user-2", 7, "small_gold"))
	updated := broadcaster.last().event.(*ScoreUpdatedEvent)
	assert.Equal(t, 7, updated.NewScore)
	assert.Contains(t, updated.Message, "7-point small gold")

	require.NoError(t, registry.EndGame(creator, "ABC123", map[string]int{"user-1": 0, "user-2": 7}))
	assert.Equal(t, PhaseEnded, registry.get("ABC123").Phase())

	assert.ErrorIs(t, registry.UpdateScore(creator, "ABC123", "user-2", 1, ""), ErrInvalidTransition)
}
