package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline() (*Pipeline, *RoomRegistry, *recordingBroadcaster) {
	registry, broadcaster := newTestRegistry()
	pipeline := NewPipeline(newTestConfig(), registry, newTestLogger())
	return pipeline, registry, broadcaster
}

func TestPipeline_DispatchesJoin(t *testing.T) {
	pipeline, registry, broadcaster := newTestPipeline()
	alice := newMockSession("user-1", "alice")

	keep := pipeline.handleSocketRequests(alice, []byte(`{"type":"join_room","roomCode":"ABC123"}`))

	assert.True(t, keep)
	require.NotNil(t, registry.get("ABC123"))
	assert.Equal(t, "ABC123", alice.RoomCode())
	assert.Equal(t, 1, broadcaster.count())
	assert.Empty(t, alice.sentEvents(t), "a successful operation sends nothing back directly")
}

func TestPipeline_FullGameOverSocket(t *testing.T) {
	pipeline, registry, broadcaster := newTestPipeline()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")

	frames := []struct {
		session *mockSession
		payload string
	}{
		{alice, `{"type":"join_room","roomCode":"ABC123"}`},
		{bob, `{"type":"join_room","roomCode":"ABC123"}`},
		{alice, `{"type":"start_game","roomCode":"ABC123"}`},
		{alice, `{"type":"update_score","roomCode":"ABC123","targetUserId":"user-2","points":7,"action":"small_gold"}`},
		{alice, `{"type":"end_game","roomCode":"ABC123","scoreSnapshot":{"user-1":0,"user-2":7}}`},
	}
	for _, frame := range frames {
		assert.True(t, pipeline.handleSocketRequests(frame.session, []byte(frame.payload)))
	}

	assert.Equal(t, PhaseEnded, registry.get("ABC123").Phase())
	ended, ok := broadcaster.last().event.(*GameEndedEvent)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"user-1": 0, "user-2": 7}, ended.Scores)
	assert.Empty(t, alice.sentEvents(t))
	assert.Empty(t, bob.sentEvents(t))
}

func TestPipeline_UnrecognizedPayloadClosesSession(t *testing.T) {
	pipeline, _, broadcaster := newTestPipeline()

	tests := []struct {
		name string
		payload string
	}{
		{name: "unknown type", payload: `{"type":"teleport"}`},
		{name: "garbage", payload: `not json at all`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice := newMockSession("user-1", "alice")

			keep := pipeline.handleSocketRequests(alice, []byte(tt.payload))

			assert.False(t, keep, "the read loop must stop on an unrecognizable frame")
			events := alice.sentEvents(t)
			require.Len(t, events, 1)
			assert.Equal(t, eventError, events[0]["type"])
			assert.Equal(t, float64(errorCodeUnrecognizedPayload), events[0]["code"])
			assert.Zero(t, broadcaster.count())
		})
	}
}

func TestPipeline_RejectedOperationUnicastsError(t *testing.T) {
	pipeline, registry, broadcaster := newTestPipeline()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "ABC123"))
	require.NoError(t, registry.Join(bob, "ABC123"))
	broadcastsBefore := broadcaster.count()

	//Scoring before the game started is an invalid transition.
	keep := pipeline.handleSocketRequests(alice, []byte(`{"type":"update_score","roomCode":"ABC123","targetUserId":"user-2","points":7}`))

	assert.True(t, keep, "a rejected operation keeps the session alive")
	events := alice.sentEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, eventError, events[0]["type"])
	assert.Equal(t, float64(errorCodeInvalidTransition), events[0]["code"])
	assert.Empty(t, bob.sentEvents(t), "errors go to the originating session only")
	assert.Equal(t, broadcastsBefore, broadcaster.count(), "errors are never broadcast")
}

func TestPipeline_UnauthenticatedJoinLooksLikeMissingRoom(t *testing.T) {
	pipeline, _, _ := newTestPipeline()
	anonymous := newMockSession("", "")

	keep := pipeline.handleSocketRequests(anonymous, []byte(`{"type":"join_room","roomCode":"ABC123"}`))

	assert.True(t, keep)
	events := anonymous.sentEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, float64(errorCodeRoomNotFound), events[0]["code"])
	assert.Equal(t, ErrRoomNotFound.Error(), events[0]["message"])
}

func TestPipeline_LeaveUnboundSession(t *testing.T) {
	pipeline, registry, _ := newTestPipeline()
	alice := newMockSession("user-1", "alice")
	bob := newMockSession("user-2", "bob")
	require.NoError(t, registry.Join(alice, "ABC123"))

	keep := pipeline.handleSocketRequests(bob, []byte(`{"type":"leave_room","roomCode":"ABC123"}`))

	assert.True(t, keep)
	events := bob.sentEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, float64(errorCodeNotAMember), events[0]["code"])
}
