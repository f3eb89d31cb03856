package server

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/satori/go.uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSession struct {
	mu sync.Mutex
	id uuid.UUID
	userID string
	username string
	roomCode string
	sent [][]byte
	closed bool
}

func newMockSession(userID, username string) *mockSession {
	return &mockSession{
		id: uuid.NewV4(),
		userID: userID,
		username: username,
	}
}

func (m *mockSession) ID() uuid.UUID { return m.id }
func (m *mockSession) UserID() string { return m.userID }
func (m *mockSession) Username() string { return m.username }
func (m *mockSession) Expiry() int64 { return 0 }

func (m *mockSession) RoomCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomCode
}

func (m *mockSession) SetRoomCode(roomCode string) {
	m.mu.Lock()
	m.roomCode = roomCode
	m.mu.Unlock()
}

func (m *mockSession) Consume(func(session Session, data []byte) bool) {}

func (m *mockSession) Send(event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return m.SendBytes(payload)
}

func (m *mockSession) SendBytes(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockSession) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *mockSession) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSession) sentEvents(t *testing.T) []map[string]interface{} {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]map[string]interface{}, 0, len(m.sent))
	for _, payload := range m.sent {
		event := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(payload, &event))
		events = append(events, event)
	}
	return events
}

type routedEvent struct {
	userIDs []string
	event interface{}
}

type recordingBroadcaster struct {
	mu sync.Mutex
	routed []routedEvent
}

func (b *recordingBroadcaster) Route(userIDs []string, event interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(userIDs))
	copy(ids, userIDs)
	b.routed = append(b.routed, routedEvent{userIDs: ids, event: event})
}

func (b *recordingBroadcaster) events() []routedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	routed := make([]routedEvent, len(b.routed))
	copy(routed, b.routed)
	return routed
}

func (b *recordingBroadcaster) last() routedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routed[len(b.routed)-1]
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.routed)
}

func newTestLogger() *Logger {
	l := zap.NewNop()
	return &Logger{
		logger: l,
		sugar: l.Sugar(),
	}
}

func newTestConfig() *Config {
	config := &Config{}
	config.RoomConfig.AllowRejoinReset = true
	config.RoomConfig.CodeLength = 6
	config.RoomConfig.MinPlayers = 2
	config.RoomConfig.MaxPlayers = 8
	config.RoomConfig.DefaultMaxPlayers = 4
	return config
}

func newTestRegistry() (*RoomRegistry, *recordingBroadcaster) {
	broadcaster := &recordingBroadcaster{}
	registry := NewRoomRegistry(newTestConfig(), newTestLogger(), broadcaster, nil, nil, nil)
	return registry, broadcaster
}
