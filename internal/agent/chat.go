package agent

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/comigor/alice-go/internal/history"
	"github.com/comigor/alice-go/internal/llm"
	"github.com/comigor/alice-go/internal/logger"
	"github.com/comigor/alice-go/internal/offline"
)

// generation is the immutable input of one background reply.
type generation struct {
	id      uint64
	session string
	mode    Mode
	model   string
	client  llm.Client
	context []ChatMessage // window at send time, user message included
	reply   string        // id of the streaming assistant message, online only
}

// SendMessage appends text as a user message and starts generating a reply
// in the background. Blank input is ignored; while a reply is running it
// returns ErrBusy.
func (a *Agent) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.generatingLocked() {
		a.mu.Unlock()
		return ErrBusy
	}

	now := a.deps.Now()
	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
		a.stored = false
	}
	if !a.stored {
		sess := history.Session{ID: a.sessionID, Title: history.Title(text), CreatedAt: now}
		a.enqueueLocked("create session", func(ctx context.Context) error {
			return a.deps.Store.CreateSession(ctx, sess)
		})
		a.stored = true
	}

	user := history.NewMessage(a.sessionID, llm.RoleUser, text, now)
	a.appendLocked(toChat(user))
	a.enqueueLocked("save user message", func(ctx context.Context) error {
		return a.deps.Store.AddMessage(ctx, user)
	})
	a.setErrLocked(nil)

	g := generation{
		id:      a.gen,
		session: a.sessionID,
		mode:    a.mode,
		model:   a.model,
		client:  a.client,
		context: slices.Clone(window(a.messages)),
	}
	if g.mode == ModeOnline {
		g.reply = uuid.NewString()
		a.appendLocked(ChatMessage{ID: g.reply, Role: llm.RoleAssistant, Timestamp: now})
	}

	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.fireLocked(triggerSend)
	a.wg.Add(1)
	a.mu.Unlock()

	a.notify()
	go a.run(genCtx, cancel, g)
	return nil
}

func (a *Agent) run(ctx context.Context, cancel context.CancelFunc, g generation) {
	defer a.wg.Done()
	defer cancel()

	if g.mode == ModeOffline {
		a.runOffline(ctx, g)
	} else {
		a.runOnline(ctx, g)
	}
	a.notify()
}

func (a *Agent) runOnline(ctx context.Context, g generation) {
	req := llm.ChatRequest{
		Model:    g.model,
		Messages: a.requestMessages(g.context),
		Stream:   true,
	}
	if g.client == nil {
		a.finishOnline(g, "", llm.ErrUnreachable)
		return
	}

	stream := g.client.ChatStream(ctx, req)
	defer stream.Close()

	var err error
	for delta, derr := range stream.Deltas() {
		if derr != nil {
			err = derr
			break
		}
		if !a.grow(g, delta) {
			return
		}
		a.notify()
	}
	a.finishOnline(g, stream.Text(), err)
}

// grow appends delta to the streaming assistant message. False means the
// generation has been orphaned.
func (a *Agent) grow(g generation, delta string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if g.id != a.gen {
		return false
	}
	if i := a.indexLocked(g.reply); i >= 0 {
		a.messages[i].Content += delta
	}
	return true
}

func (a *Agent) finishOnline(g generation, text string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if g.id != a.gen {
		logger.L.Debug("dropping orphaned reply", "session", g.session)
		return
	}
	a.cancel = nil
	a.fireLocked(triggerFinish)

	i := a.indexLocked(g.reply)
	if text == "" {
		if i >= 0 {
			a.messages = slices.Delete(a.messages, i, i+1)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.L.Error("chat generation failed", "error", err)
			a.setErrLocked(err)
		}
		return
	}

	msg := history.NewMessage(g.session, llm.RoleAssistant, text, a.deps.Now())
	msg.ID = g.reply
	if i >= 0 {
		a.messages[i].Content = text
		msg.Timestamp = a.messages[i].Timestamp
	}
	a.enqueueLocked("save assistant message", func(ctx context.Context) error {
		return a.deps.Store.AddMessage(ctx, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.L.Warn("chat stream failed after partial reply", "chars", len(text), "error", err)
		a.setErrLocked(err)
	}
}

func (a *Agent) runOffline(ctx context.Context, g generation) {
	a.mu.Lock()
	pathGen := a.pathGen
	a.mu.Unlock()

	cfg := a.deps.Settings.Config().Offline
	reply, err := a.generateOffline(ctx, pathGen, cfg.ModelPath, a.offlinePrompt(g.context), cfg.MaxTokens, float32(cfg.Temperature))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = llm.ErrEmptyResponse
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if g.id != a.gen {
		logger.L.Debug("dropping orphaned offline reply", "session", g.session)
		return
	}
	a.cancel = nil
	a.fireLocked(triggerFinish)

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.L.Error("offline generation failed", "error", err)
			a.setErrLocked(err)
		}
		return
	}
	msg := history.NewMessage(g.session, llm.RoleAssistant, strings.TrimSpace(reply), a.deps.Now())
	a.appendLocked(toChat(msg))
	a.enqueueLocked("save assistant message", func(ctx context.Context) error {
		return a.deps.Store.AddMessage(ctx, msg)
	})
}

// generateOffline loads the configured model when it is not resident and
// runs one completion. path was read when pathGen was current; if the path
// changed while loading, the stale model is released again.
func (a *Agent) generateOffline(ctx context.Context, pathGen uint64, path, prompt string, maxTokens int, temperature float32) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", offline.ErrModelFileNotFound
	}
	if !a.deps.Models.IsLoaded(path) {
		if err := a.deps.Models.Load(ctx, path); err != nil {
			return "", err
		}
		a.mu.Lock()
		stale := a.pathGen != pathGen
		a.mu.Unlock()
		if stale {
			a.deps.Models.Unload()
			logger.L.Info("offline model path changed during load", "path", path)
			return "", offline.ErrModelFileNotFound
		}
	}
	return a.deps.Models.Generate(ctx, prompt, maxTokens, temperature)
}

func (a *Agent) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func toChat(m history.Message) ChatMessage {
	return ChatMessage{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
}

// Ask sends text and blocks until the reply is complete. It returns the
// reply text or the error that ended the generation.
func (a *Agent) Ask(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}
	if err := a.SendMessage(ctx, text); err != nil {
		return "", err
	}

	done := make(chan struct{})
	go func() {
		a.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Cancel()
		<-done
		return "", ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastErr != nil {
		return "", a.lastErr
	}
	if n := len(a.messages); n > 0 && a.messages[n-1].Role == llm.RoleAssistant {
		return a.messages[n-1].Content, nil
	}
	return "", llm.ErrEmptyResponse
}
