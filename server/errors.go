package server

import (
	"github.com/pkg/errors"
)

//Room operation failures that are reported back to the originating session.
//None of these are fatal for the coordinator, they only abort the single
//operation that raised them.
var (
	ErrRoomNotFound = errors.New("room does not exist")
	ErrNotAMember = errors.New("player is not in the room")
	ErrInvalidTransition = errors.New("operation is not allowed in the current game phase")
	ErrUnauthenticated = errors.New("session is not authenticated")
)

const (
	errorCodeRoomNotFound = iota + 1
	errorCodeNotAMember
	errorCodeInvalidTransition
	errorCodeUnrecognizedPayload
)

//Unauthenticated sessions get the same answer as a missing room so that
//room codes can't be probed without a valid token.
func errorEventFor(err error) *ErrorEvent {
	switch errors.Cause(err) {
	case ErrNotAMember:
		return NewErrorEvent(errorCodeNotAMember, ErrNotAMember.Error())
	case ErrInvalidTransition:
		return NewErrorEvent(errorCodeInvalidTransition, ErrInvalidTransition.Error())
	case ErrRoomNotFound, ErrUnauthenticated:
		return NewErrorEvent(errorCodeRoomNotFound, ErrRoomNotFound.Error())
	default:
		return NewErrorEvent(errorCodeUnrecognizedPayload, err.Error())
	}
}
