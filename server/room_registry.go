package server

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

const registryShardCount = 16

//Broadcaster fans a room event out to the given user IDs. The registry
//calls it while holding the room lock, so deliveries for one room are
//enqueued in the order the triggering operations were applied.
type Broadcaster interface {
	Route(userIDs []string, event interface{})
}

//Gateway is the durable-record collaborator. The registry calls it outside
//the room critical section and never rolls a live mutation back when a
//call fails, the live room stays the source of truth for the session.
type Gateway interface {
	RecordMembership(roomCode, userID string) error
	RemoveMembership(roomCode, userID string) error
	RecordScoreDelta(roomCode, fromUser, toUser string, points int, action string) error
	SetRoomStatus(roomCode, status string) error
}

//NameResolver resolves the display name that gets denormalized into the
//member state at join time.
type NameResolver interface {
	DisplayName(userID string) (string, error)
}

type Notifier interface {
	SendNotificationWithUserIDs(headings map[string]string, contents map[string]string, userIDs ...string)
}

type registryShard struct {
	sync.RWMutex
	rooms map[string]*Room
}

//RoomRegistry owns every live room, keyed by room code and striped into
//shards so rooms on different codes never contend on one lock.
type RoomRegistry struct {
	shards [registryShardCount]*registryShard
	config *Config
	logger *Logger
	broadcaster Broadcaster
	gateway Gateway
	names NameResolver
	notifier Notifier
}

func NewRoomRegistry(config *Config, logger *Logger, broadcaster Broadcaster, gateway Gateway, names NameResolver, notifier Notifier) *RoomRegistry {

	registry := &RoomRegistry{
		config: config,
		logger: logger,
		broadcaster: broadcaster,
		gateway: gateway,
		names: names,
		notifier: notifier,
	}

	for i := range registry.shards {
		registry.shards[i] = &registryShard{
			rooms: make(map[string]*Room),
		}
	}

	return registry

}

func (r *RoomRegistry) shard(roomCode string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(roomCode))
	return r.shards[h.Sum32()%registryShardCount]
}

func (r *RoomRegistry) getOrCreate(roomCode string) *Room {
	shard := r.shard(roomCode)
	shard.Lock()
	room, ok := shard.rooms[roomCode]
	if !ok {
		room = newRoom(roomCode)
		shard.rooms[roomCode] = room
	}
	shard.Unlock()
	return room
}

func (r *RoomRegistry) get(roomCode string) *Room {
	shard := r.shard(roomCode)
	shard.RLock()
	room := shard.rooms[roomCode]
	shard.RUnlock()
	return room
}

//removeIfEmpty drops the room when its membership is empty, a no-op
//otherwise. Shard and room locks are taken in that order everywhere, so a
//room found in the map is never in the middle of being deleted.
func (r *RoomRegistry) removeIfEmpty(roomCode string) {
	shard := r.shard(roomCode)
	shard.Lock()
	defer shard.Unlock()
	room, ok := shard.rooms[roomCode]
	if !ok {
		return
	}
	room.mu.Lock()
	if room.empty() {
		room.closed = true
		delete(shard.rooms, roomCode)
		r.logger.Infow("Room was removed", "roomCode", roomCode)
	}
	room.mu.Unlock()
}

//Join admits the session's user into the room, creating the room in the
//waiting phase if it doesn't exist yet. The display name is resolved before
//the room lock is taken so the in-memory mutation is never split across an
//external call.
func (r *RoomRegistry) Join(session Session, roomCode string) error {

	if session.UserID() == "" {
		return ErrUnauthenticated
	}

	//A connection belongs to at most one room. Joining another room is an
	//implicit leave of the current one, otherwise the old room would keep a
	//member whose binding points elsewhere and could never be cleaned up.
	if prior := session.RoomCode(); prior != "" && prior != roomCode {
		if err := r.removeMember(session, prior, ""); err != nil {
			r.logger.Warnw("Could not leave prior room before join", "priorRoomCode", prior, "userID", session.UserID(), "error", err)
		}
	}

	displayName := session.Username()
	if r.names != nil {
		name, err := r.names.DisplayName(session.UserID())
		if err != nil {
			r.logger.Warnw("Could not resolve display name, falling back to token username", "userID", session.UserID(), "error", err)
		} else if name != "" {
			displayName = name
		}
	}

	for {
		room := r.getOrCreate(roomCode)
		room.mu.Lock()
		if room.closed {
			//Lost a race against removeIfEmpty, the pointer is stale.
			room.mu.Unlock()
			continue
		}

		room.insert(&Member{
			UserID: session.UserID(),
			DisplayName: displayName,
			SessionID: session.ID(),
		}, r.config.RoomConfig.AllowRejoinReset)
		session.SetRoomCode(roomCode)

		r.broadcaster.Route(room.memberIDs(), &RoomJoinedEvent{
			Type: eventRoomJoined,
			UserID: session.UserID(),
			Members: room.snapshot(),
			Message: fmt.Sprintf("%s joined the room", displayName),
		})
		room.mu.Unlock()
		break
	}

	if r.gateway != nil {
		if err := r.gateway.RecordMembership(roomCode, session.UserID()); err != nil {
			r.logger.Errorw("Could not record membership", "roomCode", roomCode, "userID", session.UserID(), "error", err)
		}
	}

	return nil

}

//Leave removes the session's user from the room it is bound to. The leave
//broadcast is suppressed when the last member leaves, the room is deleted
//instead.
func (r *RoomRegistry) Leave(session Session, roomCode string) error {
	return r.removeMember(session, roomCode, "")
}

//Disconnect is the implicit leave for a dropped connection. It is safe to
//invoke more than once for the same session, the first call clears the
//room binding and later calls find nothing to do.
func (r *RoomRegistry) Disconnect(session Session) {

	roomCode := session.RoomCode()
	if roomCode == "" || session.UserID() == "" {
		return
	}

	message := fmt.Sprintf("User %s disconnected", session.UserID())
	if err := r.removeMember(session, roomCode, message); err != nil {
		r.logger.Debugw("Disconnect cleanup skipped", "roomCode", roomCode, "userID", session.UserID(), "error", err)
	}

}

func (r *RoomRegistry) removeMember(session Session, roomCode string, message string) error {

	if session.UserID() == "" {
		return ErrUnauthenticated
	}
	if session.RoomCode() != roomCode {
		return ErrNotAMember
	}

	room := r.get(roomCode)
	if room == nil {
		session.SetRoomCode("")
		return ErrRoomNotFound
	}

	room.mu.Lock()
	member, ok := room.members[session.UserID()]
	if !ok {
		room.mu.Unlock()
		session.SetRoomCode("")
		return ErrNotAMember
	}
	//A rejoin on a fresh connection rebinds the membership to the new
	//session. The old connection's late disconnect must not evict it.
	if member.SessionID != session.ID() {
		room.mu.Unlock()
		session.SetRoomCode("")
		return nil
	}
	room.remove(session.UserID())
	session.SetRoomCode("")

	empty := room.empty()
	if !empty {
		if message == "" {
			message = fmt.Sprintf("%s left the room", member.DisplayName)
		}
		r.broadcaster.Route(room.memberIDs(), &RoomLeftEvent{
			Type: eventRoomLeft,
			UserID: member.UserID,
			Members: room.snapshot(),
			Message: message,
		})
	}
	room.mu.Unlock()

	if empty {
		r.removeIfEmpty(roomCode)
	}

	if r.gateway != nil {
		if err := r.gateway.RemoveMembership(roomCode, member.UserID); err != nil {
			r.logger.Errorw("Could not remove membership", "roomCode", roomCode, "userID", member.UserID, "error", err)
		}
	}

	return nil

}

func (r *RoomRegistry) StartGame(session Session, roomCode string) error {

	if session.UserID() == "" {
		return ErrUnauthenticated
	}

	room := r.get(roomCode)
	if room == nil {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.phase != PhaseWaiting {
		room.mu.Unlock()
		return ErrInvalidTransition
	}
	room.phase = PhasePlaying

	r.broadcaster.Route(room.memberIDs(), &GameStartedEvent{
		Type: eventGameStarted,
		RoomCode: roomCode,
		Message: "Game started",
	})
	room.mu.Unlock()

	if r.gateway != nil {
		if err := r.gateway.SetRoomStatus(roomCode, string(PhasePlaying)); err != nil {
			r.logger.Errorw("Could not persist room status", "roomCode", roomCode, "status", PhasePlaying, "error", err)
		}
	}

	return nil

}

func (r *RoomRegistry) UpdateScore(session Session, roomCode string, targetUserID string, points int, action string) error {

	if session.UserID() == "" {
		return ErrUnauthenticated
	}

	room := r.get(roomCode)
	if room == nil {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.phase != PhasePlaying {
		room.mu.Unlock()
		return ErrInvalidTransition
	}

	operator, ok := room.members[session.UserID()]
	if !ok {
		room.mu.Unlock()
		return ErrNotAMember
	}
	target, ok := room.members[targetUserID]
	if !ok {
		room.mu.Unlock()
		return ErrNotAMember
	}

	target.Score += points

	r.broadcaster.Route(room.memberIDs(), &ScoreUpdatedEvent{
		Type: eventScoreUpdated,
		RoomCode: roomCode,
		OperatorID: operator.UserID,
		OperatorName: operator.DisplayName,
		TargetID: target.UserID,
		TargetName: target.DisplayName,
		Points: points,
		NewScore: target.Score,
		Action: action,
		Message: scoreMessage(operator, target, points),
		Timestamp: time.Now().UnixMilli(),
		Members: room.snapshot(),
	})
	room.mu.Unlock()

	if r.gateway != nil {
		if err := r.gateway.RecordScoreDelta(roomCode, session.UserID(), targetUserID, points, action); err != nil {
			r.logger.Errorw("Could not record score delta", "roomCode", roomCode, "targetUserID", targetUserID, "error", err)
		}
	}

	return nil

}

//EndGame flips the room into its terminal phase and broadcasts the supplied
//final snapshot verbatim. The live scores are not recomputed or validated
//against the snapshot, the caller owns the reconciliation.
func (r *RoomRegistry) EndGame(session Session, roomCode string, scores map[string]int) error {

	if session.UserID() == "" {
		return ErrUnauthenticated
	}

	room := r.get(roomCode)
	if room == nil {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if room.phase != PhasePlaying {
		room.mu.Unlock()
		return ErrInvalidTransition
	}
	room.phase = PhaseEnded

	memberIDs := room.memberIDs()
	r.broadcaster.Route(memberIDs, &GameEndedEvent{
		Type: eventGameEnded,
		RoomCode: roomCode,
		Scores: scores,
		Message: "Game ended",
	})
	room.mu.Unlock()

	if r.gateway != nil {
		if err := r.gateway.SetRoomStatus(roomCode, string(PhaseEnded)); err != nil {
			r.logger.Errorw("Could not persist room status", "roomCode", roomCode, "status", PhaseEnded, "error", err)
		}
	}

	if r.notifier != nil {
		r.notifier.SendNotificationWithUserIDs(
			map[string]string{"en": "Game ended"},
			map[string]string{"en": fmt.Sprintf("Final scores for room %s are in", roomCode)},
			memberIDs...,
		)
	}

	return nil

}
