package history

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is a Store that keeps everything in process memory.
type Memory struct {
	mu       sync.Mutex
	sessions []Session
	messages map[string][]Message
}

func NewMemory() *Memory {
	return &Memory{messages: make(map[string][]Message)}
}

func (m *Memory) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(s.ID) >= 0 {
		return fmt.Errorf("insert session: duplicate id %q", s.ID)
	}
	m.sessions = append(m.sessions, s)
	return nil
}

func (m *Memory) indexOf(id string) int {
	return slices.IndexFunc(m.sessions, func(s Session) bool { return s.ID == id })
}

func (m *Memory) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return Session{}, ErrSessionNotFound
	}
	return m.sessions[i], nil
}

func (m *Memory) ListSessions(context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.sessions)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b Session) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return ErrSessionNotFound
	}
	m.sessions = slices.Delete(m.sessions, i, i+1)
	delete(m.messages, id)
	return nil
}

func (m *Memory) AddMessage(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(msg.SessionID) < 0 {
		return fmt.Errorf("insert message: %w", ErrSessionNotFound)
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages[sessionID]), nil
}

func (m *Memory) Close() error { return nil }
