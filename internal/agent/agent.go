// Package agent is the chat orchestrator. It owns the visible conversation,
// picks the backend that answers (online chat server or offline model), keeps
// the rolling context window and persists the session as it goes.
package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/alice-go/internal/config"
	"github.com/comigor/alice-go/internal/history"
	"github.com/comigor/alice-go/internal/llm"
	"github.com/comigor/alice-go/internal/logger"
)

// FSM states and triggers.
const (
	stateIdle       = "Idle"
	stateGenerating = "Generating"

	triggerSend   = "Send"
	triggerFinish = "Finish"
)

const (
	// MaxMessages is how many messages are kept in memory per session.
	MaxMessages = 200
	// WindowSize is how many trailing messages are sent with each request.
	WindowSize = 7
	// OfflinePrefix marks model names that select the offline engine.
	OfflinePrefix = "Offline: "
)

// Mode is the backend answering SendMessage.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// ChatMessage is one visible message of the conversation.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UIState is an immutable snapshot of the orchestrator.
type UIState struct {
	SessionID     string        `json:"session_id"`
	Messages      []ChatMessage `json:"messages"`
	Window        []ChatMessage `json:"window"`
	Mode          Mode          `json:"mode"`
	SelectedModel string        `json:"selected_model"`
	Generating    bool          `json:"generating"`
	Error         string        `json:"error,omitempty"`
}

// ModelManager is the offline model slot.
type ModelManager interface {
	Load(ctx context.Context, path string) error
	Unload()
	IsLoaded(path string) bool
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// PathResolver imports a user supplied model file into the private models
// directory.
type PathResolver interface {
	Resolve(src string) (string, error)
}

// SettingsStore is the persistent settings the agent reads and writes.
type SettingsStore interface {
	Config() config.Config
	SetSelectedModel(name string) error
	SetOfflineModelPath(path string) error
}

// Deps are the collaborators of an Agent. Resolver and Now are optional.
type Deps struct {
	LLM      llm.Client
	Models   ModelManager
	Store    history.Store
	Settings SettingsStore
	Resolver PathResolver
	Now      func() time.Time
}

// Agent is the main agent struct
type Agent struct {
	deps Deps
	fsm  *stateless.StateMachine

	mu        sync.Mutex
	client    llm.Client
	sessionID string
	stored    bool // session row written (or queued)
	messages  []ChatMessage
	mode      Mode
	model     string
	lastErr   error
	gen       uint64 // bumped to orphan an in-flight generation
	pathGen   uint64 // bumped when the offline model path changes
	cancel    context.CancelFunc
	closed    bool
	persisted chan struct{} // completion of the last queued store write

	notifyMu sync.Mutex
	onUpdate func(UIState)

	wg sync.WaitGroup
}

// New creates an agent. The selected model is restored from settings; an
// offline selection is loaded lazily on the first message.
func New(deps Deps) *Agent {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	a := &Agent{
		deps:   deps,
		client: deps.LLM,
		mode:   ModeOnline,
	}

	selected := strings.TrimSpace(deps.Settings.Config().LLM.Model)
	a.model = selected
	if strings.HasPrefix(selected, OfflinePrefix) {
		a.mode = ModeOffline
	}

	a.fsm = stateless.NewStateMachine(stateIdle)
	a.fsm.Configure(stateIdle).
		Permit(triggerSend, stateGenerating)
	a.fsm.Configure(stateGenerating).
		Permit(triggerFinish, stateIdle)
	a.fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		logger.L.Debug("chat state", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})
	return a
}

// SetClient swaps the online backend, e.g. after the server URL changed.
func (a *Agent) SetClient(c llm.Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = c
}

// OnUpdate registers the observer that receives a snapshot after every state
// change. Only one observer is kept.
func (a *Agent) OnUpdate(fn func(UIState)) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	a.onUpdate = fn
}

// Snapshot returns the current state.
func (a *Agent) Snapshot() UIState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Agent) snapshotLocked() UIState {
	msgs := slices.Clone(a.messages)
	return UIState{
		SessionID:     a.sessionID,
		Messages:      msgs,
		Window:        slices.Clone(window(msgs)),
		Mode:          a.mode,
		SelectedModel: a.model,
		Generating:    a.generatingLocked(),
		Error:         UserMessage(a.lastErr),
	}
}

func (a *Agent) notify() {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	if a.onUpdate != nil {
		a.onUpdate(a.Snapshot())
	}
}

func (a *Agent) setErrLocked(err error) {
	a.lastErr = err
}

func (a *Agent) generatingLocked() bool {
	st, err := a.fsm.State(context.Background())
	if err != nil {
		logger.L.Error("FSM error when retrieving state", "error", err)
		return false
	}
	return st == stateGenerating
}

func (a *Agent) fireLocked(trigger string) {
	if err := a.fsm.Fire(trigger); err != nil {
		logger.L.Warn("FSM fire error", "trigger", trigger, "error", err)
	}
}

// window is the trailing context window of msgs.
func window(msgs []ChatMessage) []ChatMessage {
	if len(msgs) <= WindowSize {
		return msgs
	}
	return msgs[len(msgs)-WindowSize:]
}

// appendLocked adds m and drops the oldest messages beyond MaxMessages.
func (a *Agent) appendLocked(m ChatMessage) {
	a.messages = append(a.messages, m)
	if over := len(a.messages) - MaxMessages; over > 0 {
		a.messages = slices.Delete(a.messages, 0, over)
	}
}

// abortLocked orphans the running generation and returns to Idle at once.
func (a *Agent) abortLocked() {
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.generatingLocked() {
		a.fireLocked(triggerFinish)
	}
}

// Cancel stops the running generation. Partial online output is kept.
func (a *Agent) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Wait blocks until background generation and persistence have finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// Close cancels any generation, waits for it and for pending writes, then
// unloads the offline model. The store itself is owned by the caller.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.abortLocked()
	a.mu.Unlock()

	a.wg.Wait()
	a.deps.Models.Unload()
	return nil
}

// enqueueLocked runs job after every previously queued store write.
func (a *Agent) enqueueLocked(what string, job func(ctx context.Context) error) <-chan error {
	prev := a.persisted
	done := make(chan struct{})
	a.persisted = done
	res := make(chan error, 1)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		err := job(context.Background())
		if err != nil {
			logger.L.Warn("history write failed", "op", what, "error", err)
			err = fmt.Errorf("%s: %w", what, err)
		}
		res <- err
	}()
	return res
}
