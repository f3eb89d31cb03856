package server

import (
	"sync"

	"github.com/satori/go.uuid"
)

//Session is one live socket connection, bound to a resolved user identity
//when the connection carried a valid token and anonymous otherwise. A
//session belongs to zero or one room at a time.
type Session interface {
	ID() uuid.UUID
	UserID() string
	Username() string
	Expiry() int64

	RoomCode() string
	SetRoomCode(roomCode string)

	Consume(handlerFunc func(session Session, data []byte) bool)
	Send(event interface{}) error
	SendBytes(payload []byte) error

	Close()
	IsClosed() bool
}

//SessionHolder maintains a thread-safe list of sessions to their IDs, and
//an index by user ID for broadcast routing.
type SessionHolder struct {
	sync.RWMutex
	sessions map[uuid.UUID]Session
	sessionsByUserID map[string]Session
	config *Config
}

func NewSessionHolder(config *Config) *SessionHolder {
	return &SessionHolder{
		sessions: make(map[uuid.UUID]Session),
		sessionsByUserID: make(map[string]Session),
		config: config,
	}
}

func (r *SessionHolder) Get(sessionID uuid.UUID) Session {
	var s Session
	r.RLock()
	s = r.sessions[sessionID]
	r.RUnlock()
	return s
}

func (r *SessionHolder) GetByUserID(userID string) Session {
	if userID == "" {
		return nil
	}
	var s Session
	r.RLock()
	s = r.sessionsByUserID[userID]
	r.RUnlock()
	return s
}

func (r *SessionHolder) add(s Session) {
	r.Lock()
	r.sessions[s.ID()] = s
	if s.UserID() != "" {
		r.sessionsByUserID[s.UserID()] = s
	}
	r.Unlock()
}

func (r *SessionHolder) remove(s Session) {
	r.Lock()
	delete(r.sessions, s.ID())
	//A user may have reconnected already, only drop the index entry when it
	//still points at this session.
	if current, ok := r.sessionsByUserID[s.UserID()]; ok && current.ID() == s.ID() {
		delete(r.sessionsByUserID, s.UserID())
	}
	r.Unlock()
}
