package server

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	eventJoinRoom = "join_room"
	eventLeaveRoom = "leave_room"
	eventStartGame = "start_game"
	eventUpdateScore = "update_score"
	eventEndGame = "end_game"

	eventRoomJoined = "room_joined"
	eventRoomLeft = "room_left"
	eventGameStarted = "game_started"
	eventScoreUpdated = "score_updated"
	eventGameEnded = "game_ended"
	eventError = "error"
)

//InboundEvent is the closed set of requests a session can send over the
//socket. DecodeEvent is the only constructor, so the pipeline switch over
//these types is exhaustive.
type InboundEvent interface {
	inboundEvent()
}

type JoinRoomEvent struct {
	RoomCode string `json:"roomCode"`
	//Clients send their user id but it is never trusted, the resolved
	//session identity is what joins the room.
	UserID string `json:"userId"`
}

type LeaveRoomEvent struct {
	RoomCode string `json:"roomCode"`
}

type StartGameEvent struct {
	RoomCode string `json:"roomCode"`
}

type UpdateScoreEvent struct {
	RoomCode string `json:"roomCode"`
	TargetUserID string `json:"targetUserId"`
	Points int `json:"points"`
	Action string `json:"action"`
}

type EndGameEvent struct {
	RoomCode string `json:"roomCode"`
	Scores map[string]int `json:"scoreSnapshot"`
}

func (*JoinRoomEvent) inboundEvent() {}
func (*LeaveRoomEvent) inboundEvent() {}
func (*StartGameEvent) inboundEvent() {}
func (*UpdateScoreEvent) inboundEvent() {}
func (*EndGameEvent) inboundEvent() {}

func DecodeEvent(data []byte) (InboundEvent, error) {

	var head struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "malformed event payload")
	}

	var event InboundEvent

	switch head.Type {
	case eventJoinRoom:
		event = &JoinRoomEvent{}
	case eventLeaveRoom:
		event = &LeaveRoomEvent{}
	case eventStartGame:
		event = &StartGameEvent{}
	case eventUpdateScore:
		event = &UpdateScoreEvent{}
	case eventEndGame:
		event = &EndGameEvent{}
	default:
		return nil, errors.Errorf("unrecognized event type %q", head.Type)
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, errors.Wrapf(err, "malformed %s event", head.Type)
	}

	return event, nil

}

//MemberInfo is the per-player slice of a broadcast snapshot. Snapshots are
//emitted in join order so every subscriber sees the same listing.
type MemberInfo struct {
	UserID string `json:"id"`
	DisplayName string `json:"username"`
	Score int `json:"score"`
}

type RoomJoinedEvent struct {
	Type string `json:"type"`
	UserID string `json:"userId"`
	Members []MemberInfo `json:"members"`
	Message string `json:"message"`
}

type RoomLeftEvent struct {
	Type string `json:"type"`
	UserID string `json:"userId"`
	Members []MemberInfo `json:"members"`
	Message string `json:"message"`
}

type GameStartedEvent struct {
	Type string `json:"type"`
	RoomCode string `json:"roomCode"`
	Message string `json:"message"`
}

type ScoreUpdatedEvent struct {
	Type string `json:"type"`
	RoomCode string `json:"roomCode"`
	OperatorID string `json:"operatorId"`
	OperatorName string `json:"operatorName"`
	TargetID string `json:"targetId"`
	TargetName string `json:"targetName"`
	Points int `json:"points"`
	NewScore int `json:"newScore"`
	Action string `json:"action"`
	Message string `json:"message"`
	Timestamp int64 `json:"timestamp"`
	Members []MemberInfo `json:"members"`
}

type GameEndedEvent struct {
	Type string `json:"type"`
	RoomCode string `json:"roomCode"`
	Scores map[string]int `json:"scoreSnapshot"`
	Message string `json:"message"`
}

type ErrorEvent struct {
	Type string `json:"type"`
	Code int `json:"code"`
	Message string `json:"message"`
}

func NewErrorEvent(code int, message string) *ErrorEvent {
	return &ErrorEvent{
		Type: eventError,
		Code: code,
		Message: message,
	}
}
