package server

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		payload string
		want InboundEvent
	}{
		{
			name: "join room",
			payload: `{"type":"join_room","roomCode":"ABC123","userId":"user-1"}`,
			want: &JoinRoomEvent{RoomCode: "ABC123", UserID: "user-1"},
		},
		{
			name: "leave room",
			payload: `{"type":"leave_room","roomCode":"ABC123"}`,
			want: &LeaveRoomEvent{RoomCode: "ABC123"},
		},
		{
			name: "start game",
			payload: `{"type":"start_game","roomCode":"ABC123"}`,
			want: &StartGameEvent{RoomCode: "ABC123"},
		},
		{
			name: "update score",
			payload: `{"type":"update_score","roomCode":"ABC123","targetUserId":"user-2","points":7,"action":"small_gold"}`,
			want: &UpdateScoreEvent{RoomCode: "ABC123", TargetUserID: "user-2", Points: 7, Action: "small_gold"},
		},
		{
			name: "end game",
			payload: `{"type":"end_game","roomCode":"ABC123","scoreSnapshot":{"user-1":0,"user-2":7}}`,
			want: &EndGameEvent{RoomCode: "ABC123", Scores: map[string]int{"user-1": 0, "user-2": 7}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, event)
		})
	}
}

func TestDecodeEvent_Rejections(t *testing.T) {
	tests := []struct {
		name string
		payload string
	}{
		{name: "unknown type", payload: `{"type":"launch_rocket"}`},
		{name: "missing type", payload: `{"roomCode":"ABC123"}`},
		{name: "not json", payload: `room ABC123 please`},
		{name: "wrong field type", payload: `{"type":"update_score","points":"seven"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(tt.payload))
			assert.Error(t, err)
			assert.Nil(t, event)
		})
	}
}

func TestErrorEventFor(t *testing.T) {
	tests := []struct {
		name string
		err error
		wantCode int
		wantMessage string
	}{
		{name: "not a member", err: ErrNotAMember, wantCode: errorCodeNotAMember, wantMessage: ErrNotAMember.Error()},
		{name: "invalid transition", err: ErrInvalidTransition, wantCode: errorCodeInvalidTransition, wantMessage: ErrInvalidTransition.Error()},
		{name: "room not found", err: ErrRoomNotFound, wantCode: errorCodeRoomNotFound, wantMessage: ErrRoomNotFound.Error()},
		//Unauthenticated is indistinguishable from a missing room on the wire.
		{name: "unauthenticated masked", err: ErrUnauthenticated, wantCode: errorCodeRoomNotFound, wantMessage: ErrRoomNotFound.Error()},
		{name: "wrapped cause unwrapped", err: errors.Wrap(ErrNotAMember, "score update"), wantCode: errorCodeNotAMember, wantMessage: ErrNotAMember.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := errorEventFor(tt.err)
			assert.Equal(t, eventError, event.Type)
			assert.Equal(t, tt.wantCode, event.Code)
			assert.Equal(t, tt.wantMessage, event.Message)
		})
	}
}
