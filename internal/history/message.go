package history

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is a persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Message represents a single conversational message of a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const titleLimit = 40

// Title derives a session title from the first message of a conversation.
func Title(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if t == "" {
		return "New chat"
	}
	r := []rune(t)
	if len(r) <= titleLimit {
		return t
	}
	return strings.TrimRight(string(r[:titleLimit]), " ") + "…"
}

// NewSession returns a session titled after firstMessage.
func NewSession(firstMessage string, now time.Time) Session {
	return Session{ID: uuid.NewString(), Title: Title(firstMessage), CreatedAt: now}
}

// NewMessage returns a message with a fresh id.
func NewMessage(sessionID, role, content string, now time.Time) Message {
	return Message{ID: uuid.NewString(), SessionID: sessionID, Role: role, Content: content, Timestamp: now}
}
