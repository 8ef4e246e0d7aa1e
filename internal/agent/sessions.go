package agent

import (
	"context"
	"fmt"

	"github.com/comigor/alice-go/internal/history"
)

// NewSession starts an empty conversation. The session is stored when its
// first message is sent.
func (a *Agent) NewSession() {
	a.mu.Lock()
	a.abortLocked()
	a.sessionID = ""
	a.stored = false
	a.messages = nil
	a.setErrLocked(nil)
	a.mu.Unlock()
	a.notify()
}

// OpenSession replaces the conversation with a stored session, keeping its
// last MaxMessages messages.
func (a *Agent) OpenSession(ctx context.Context, id string) error {
	a.mu.Lock()
	a.abortLocked()
	a.mu.Unlock()

	// Pending writes may still belong to this session.
	a.flush()

	if _, err := a.deps.Store.GetSession(ctx, id); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	stored, err := a.deps.Store.ListMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if over := len(stored) - MaxMessages; over > 0 {
		stored = stored[over:]
	}
	msgs := make([]ChatMessage, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, toChat(m))
	}

	a.mu.Lock()
	a.sessionID = id
	a.stored = true
	a.messages = msgs
	a.setErrLocked(nil)
	a.mu.Unlock()
	a.notify()
	return nil
}

// DeleteSession removes a stored session. Deleting the open session also
// clears the conversation.
func (a *Agent) DeleteSession(ctx context.Context, id string) error {
	a.mu.Lock()
	current := id == a.sessionID
	a.mu.Unlock()
	if current {
		a.NewSession()
	}

	a.mu.Lock()
	done := a.enqueueLocked("delete session", func(ctx context.Context) error {
		return a.deps.Store.DeleteSession(ctx, id)
	})
	a.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions lists stored sessions, newest first.
func (a *Agent) Sessions(ctx context.Context) ([]history.Session, error) {
	return a.deps.Store.ListSessions(ctx)
}

// flush waits for the store writes queued so far.
func (a *Agent) flush() {
	a.mu.Lock()
	done := a.enqueueLocked("flush", func(context.Context) error { return nil })
	a.mu.Unlock()
	<-done
}
