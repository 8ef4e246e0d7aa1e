package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/comigor/alice-go/internal/config"
	"github.com/comigor/alice-go/internal/history"
	"github.com/comigor/alice-go/internal/llm"
	"github.com/comigor/alice-go/internal/offline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 10, 16, 9, 5, 0, 0, time.UTC)

// script is the canned answer of one ChatStream call.
type script struct {
	deltas []string
	err    error
	block  chan struct{} // each delta waits for this channel when set
}

type scriptSource struct {
	ctx context.Context
	s   script
	i   int
}

func (s *scriptSource) Next() (string, error) {
	if s.i >= len(s.s.deltas) {
		if s.s.err != nil {
			return "", s.s.err
		}
		return "", io.EOF
	}
	if s.s.block != nil {
		select {
		case <-s.s.block:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	d := s.s.deltas[s.i]
	s.i++
	return d, nil
}

func (s *scriptSource) Close() error { return nil }

type mockLLM struct {
	mu       sync.Mutex
	scripts  []script
	byPrompt map[string]script // keyed by the last request message
	requests []llm.ChatRequest
	models   []string
	err      error
}

func (m *mockLLM) ListModels(context.Context) ([]string, error) {
	return m.models, m.err
}

func (m *mockLLM) ChatStream(ctx context.Context, req llm.ChatRequest) *llm.Stream {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	s, ok := m.byPrompt[req.Messages[len(req.Messages)-1].Content]
	if !ok {
		if len(m.scripts) == 0 {
			panic("mockLLM: no more responses configured")
		}
		s = m.scripts[0]
		m.scripts = m.scripts[1:]
	}
	m.mu.Unlock()

	open := func(ctx context.Context) (llm.DeltaSource, error) {
		return &scriptSource{ctx: ctx, s: s}, nil
	}
	return llm.NewStream(ctx, open, llm.RetryPolicy{MaxAttempts: 1})
}

func (m *mockLLM) lastRequest(t *testing.T) llm.ChatRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.requests)
	return m.requests[len(m.requests)-1]
}

type fakeSettings struct {
	mu  sync.Mutex
	cfg config.Config

	// When gate is set, Config takes its copy and then blocks until gate is
	// closed, signalling read on the way in.
	gate chan struct{}
	read chan struct{}
}

func (f *fakeSettings) Config() config.Config {
	f.mu.Lock()
	cfg, gate, read := f.cfg, f.gate, f.read
	f.mu.Unlock()
	if gate != nil {
		select {
		case read <- struct{}{}:
		default:
		}
		<-gate
	}
	return cfg
}

// hold makes subsequent Config calls block until the returned release is
// called.
func (f *fakeSettings) hold() (read <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.gate, f.read = gate, ch
	f.mu.Unlock()
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

func (f *fakeSettings) SetSelectedModel(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.LLM.Model = name
	return nil
}

func (f *fakeSettings) SetOfflineModelPath(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.Offline.ModelPath = path
	return nil
}

type fixture struct {
	agent    *Agent
	llm      *mockLLM
	models   *offline.Manager
	store    *history.Memory
	settings *fakeSettings
}

func newFixture(t *testing.T, scripts ...script) *fixture {
	t.Helper()
	f := &fixture{
		llm:    &mockLLM{scripts: scripts},
		models: offline.NewManager(offline.NewPlaceholderEngine()),
		store:  history.NewMemory(),
		settings: &fakeSettings{cfg: config.Config{
			LLM:     config.LLMConfig{Model: "llama3"},
			Offline: config.OfflineConfig{MaxTokens: 64, Temperature: 0.5},
		}},
	}
	f.agent = New(Deps{
		LLM:      f.llm,
		Models:   f.models,
		Store:    f.store,
		Settings: f.settings,
		Now:      func() time.Time { return fixedNow },
	})
	t.Cleanup(func() { f.agent.Close() })
	return f
}

func writeModel(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("GGUF fake weights"), 0o644))
	return path
}

func roles(msgs []ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role + ":" + m.Content
	}
	return out
}

func TestSendMessage_StreamsOnlineReply(t *testing.T) {
	f := newFixture(t, script{deltas: []string{"Hi", " there"}})
	ctx := context.Background()

	require.NoError(t, f.agent.SendMessage(ctx, "  hello  "))
	f.agent.Wait()

	st := f.agent.Snapshot()
	assert.False(t, st.Generating)
	assert.Empty(t, st.Error)
	assert.Equal(t, ModeOnline, st.Mode)
	assert.Equal(t, []string{"user:hello", "assistant:Hi there"}, roles(st.Messages))

	req := f.llm.lastRequest(t)
	assert.Equal(t, "llama3", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "hello"}, req.Messages[1])

	sess, err := f.store.GetSession(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "hello", sess.Title)
	stored, err := f.store.ListMessages(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Hi there", stored[1].Content)
	assert.Equal(t, st.Messages[1].ID, stored[1].ID)
}

func TestSendMessage_SystemPromptEmbedsClock(t *testing.T) {
	f := newFixture(t, script{deltas: []string{"ok"}})

	require.NoError(t, f.agent.SendMessage(context.Background(), "what time is it?"))
	f.agent.Wait()

	sys := f.llm.lastRequest(t).Messages[0].Content
	assert.Contains(t, sys, "09:05")
	assert.Contains(t, sys, "October 16, 2026")
	assert.Contains(t, sys, fixedNow.Weekday().String())
	assert.NotContains(t, sys, "{")

	// Never stored as a chat message.
	for _, m := range f.agent.Snapshot().Messages {
		assert.NotEqual(t, llm.RoleSystem, m.Role)
	}
}

func TestSendMessage_BlankIsNoop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.agent.SendMessage(context.Background(), " \n\t "))

	st := f.agent.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.SessionID)
	sessions, err := f.agent.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSendMessage_BusyWhileGenerating(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(t, script{deltas: []string{"slow"}, block: block})
	ctx := context.Background()

	require.NoError(t, f.agent.SendMessage(ctx, "first"))
	assert.True(t, f.agent.Snapshot().Generating)

	assert.ErrorIs(t, f.agent.SendMessage(ctx, "second"), ErrBusy)
	assert.ErrorIs(t, f.agent.SelectModel(ctx, "other"), ErrBusy)
	assert.Equal(t, "llama3", f.agent.Snapshot().SelectedModel)

	close(block)
	f.agent.Wait()

	st := f.agent.Snapshot()
	assert.False(t, st.Generating)
	assert.Equal(t, []string{"user:first", "assistant:slow"}, roles(st.Messages))
}

func TestSendMessage_ZeroDeltasRemovesPlaceholder(t *testing.T) {
	f := newFixture(t, script{err: &llm.StreamError{Reason: "rate limited"}})
	ctx := context.Background()

	require.NoError(t, f.agent.SendMessage(ctx, "hello"))
	f.agent.Wait()

	st := f.agent.Snapshot()
	assert.Equal(t, []string{"user:hello"}, roles(st.Messages))
	assert.Equal(t, "The server reported an error: rate limited", st.Error)

	stored, err := f.store.ListMessages(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSendMessage_EmptyStream(t *testing.T) {
	f := newFixture(t, script{})

	require.NoError(t, f.agent.SendMessage(context.Background(), "hello"))
	f.agent.Wait()

	st := f.agent.Snapshot()
	assert.Len(t, st.Messages, 1)
	assert.Equal(t, UserMessage(llm.ErrEmptyResponse), st.Error)
}

func TestSendMessage_PartialReplyKeptOnFailure(t *testing.T) {
	f := newFixture(t, script{deltas: []string{"Par", "tial"}, err: &llm.ClientError{Kind: llm.KindUnreachable, Message: "connection reset"}})
	ctx := context.Background()

	require.NoError(t, f.agent.SendMessage(ctx, "hello"))
	f.agent.Wait()

	st := f.agent.Snapshot()
	assert.Equal(t, []string{"user:hello", "assistant:Partial"}, roles(st.Messages))
	assert.Equal(t, UserMessage(llm.ErrUnreachable), st.Error)

	stored, err := f.store.ListMessages(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Partial", stored[1].Content)
}

func TestSendMessage_WindowIsLastSevenMessages(t *testing.T) {
	f := newFixture(t, script{deltas: []string{"ok"}})
	ctx := context.Background()

	sess := history.NewSession("long chat", fixedNow)
	require.NoError(t, f.store.CreateSession(ctx, sess))
	for i := range 205 {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		require.NoError(t, f.store.AddMessage(ctx, history.NewMessage(sess.ID, role, fmt.Sprintf("m%d", i), fixedNow)))
	}

	require.NoError(t, f.agent.OpenSession(ctx, sess.ID))
	st := f.agent.Snapshot()
	require.Len(t, st.Messages, MaxMessages)
	assert.Equal(t, "m5", st.Messages[0].Content)
	require.Len(t, st.Window, WindowSize)
	assert.Equal(t, "m198", st.Window[0].Content)

	require.NoError(t, f.agent.SendMessage(ctx, "next"))
	f.agent.Wait()

	req := f.llm.lastRequest(t)
	require.Len(t, req.Messages, 1+WindowSize)
	assert.Equal(t, "m199", req.Messages[1].Content)
	assert.Equal(t, "m204", req.Messages[6].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "next"}, req.Messages[7])

	st = f.agent.Snapshot()
	assert.Len(t, st.Messages, MaxMessages)
	assert.Equal(t, "ok", st.Messages[len(st.Messages)-1].Content)

	stored, err := f.store.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 207)
}

func TestOffline_GeneratesWithLoadedModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeModel(t, "tiny.gguf")
	require.NoError(t, f.agent.UpdateOfflineModelPath(ctx, path))

	require.NoError(t, f.agent.SelectModel(ctx, OfflineModelName(path)))
	assert.True(t, f.models.IsLoaded(path))
	assert.Equal(t, "Offline: tiny.gguf", f.settings.Config().LLM.Model)

	require.NoError(t, f.agent.SendMessage(ctx, "hello"))
	f.agent.Wait()

	st := f.agent.Snapshot()
	assert.Equal(t, ModeOffline, st.Mode)
	assert.Empty(t, st.Error)
	require.Len(t, st.Messages, 2)
	reply := st.Messages[1].Content
	assert.Contains(t, reply, "Offline native response (tiny.gguf):")
	assert.Contains(t, reply, "User: hello")
	f.llm.mu.Lock()
	assert.Empty(t, f.llm.requests)
	f.llm.mu.Unlock()
}

func TestOffline_ClearedPathThenSelectFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeModel(t, "tiny.gguf")
	require.NoError(t, f.agent.UpdateOfflineModelPath(ctx, path))
	require.NoError(t, f.agent.SelectModel(ctx, OfflineModelName(path)))
	require.True(t, f.models.IsLoaded(path))

	require.NoError(t, f.agent.UpdateOfflineModelPath(ctx, ""))
	_, loaded := f.models.Loaded()
	assert.False(t, loaded)

	err := f.agent.SelectModel(ctx, OfflineModelName(path))
	require.Error(t, err)
	assert.Equal(t, "Model file not found", err.Error())
	assert.Equal(t, "Model file not found", f.agent.Snapshot().Error)
}

func TestOffline_SelectingOnlineUnloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeModel(t, "tiny.gguf")
	require.NoError(t, f.agent.UpdateOfflineModelPath(ctx, path))
	require.NoError(t, f.agent.SelectModel(ctx, OfflineModelName(path)))

	require.NoError(t, f.agent.SelectModel(ctx, "llama3"))

	_, loaded := f.models.Loaded()
	assert.False(t, loaded)
	st := f.agent.Snapshot()
	assert.Equal(t, ModeOnline, st.Mode)
	assert.Equal(t, "llama3", st.SelectedModel)
}

func TestOffline_MissingModelSurfacesError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.settings.cfg.LLM.Model = OfflinePrefix + "gone.gguf"
	f.settings.cfg.Offline.ModelPath = filepath.Join(t.TempDir(), "gone.gguf")
	a := New(Deps{LLM: f.llm, Models: f.models, Store: f.store, Settings: f.settings, Now: func() time.Time { return fixedNow }})
	defer a.Close()

	require.Equal(t, ModeOffline, a.Snapshot().Mode)
	require.NoError(t, a.SendMessage(ctx, "hello"))
	a.Wait()

	st := a.Snapshot()
	assert.Equal(t, "Model file not found", st.Error)
	assert.Len(t, st.Messages, 1)
}

func TestCancel_RemovesEmptyPlaceholder(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := newFixture(t, script{deltas: []string{"never"}, block: block})

	require.NoError(t, f.agent.SendMessage(context.Background(), "hello"))
	f.agent.Cancel()
	f.agent.Wait()

	st := f.agent.Snapshot()
	assert.False(t, st.Generating)
	assert.Empty(t, st.Error)
	assert.Equal(t, []string{"user:hello"}, roles(st.Messages))
}

func TestNewSession_OrphansRunningReply(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := newFixture(t)
	f.llm.byPrompt = map[string]script{
		"old": {deltas: []string{"late"}, block: block},
		"new": {deltas: []string{"fresh"}},
	}
	ctx := context.Background()

	require.NoError(t, f.agent.SendMessage(ctx, "old"))
	old := f.agent.Snapshot().SessionID

	f.agent.NewSession()
	st := f.agent.Snapshot()
	assert.False(t, st.Generating)
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.SessionID)

	require.NoError(t, f.agent.SendMessage(ctx, "new"))
	f.agent.Wait()

	st = f.agent.Snapshot()
	assert.NotEqual(t, old, st.SessionID)
	assert.Equal(t, []string{"user:new", "assistant:fresh"}, roles(st.Messages))

	stored, err := f.store.ListMessages(ctx, old)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSessions_OpenAndDelete(t *testing.T) {
	f := newFixture(t, script{deltas: []string{"one"}}, script{deltas: []string{"two"}})
	ctx := context.Background()

	require.NoError(t, f.agent.SendMessage(ctx, "first chat"))
	f.agent.Wait()
	first := f.agent.Snapshot().SessionID

	f.agent.NewSession()
	require.NoError(t, f.agent.SendMessage(ctx, "second chat"))
	f.agent.Wait()
	second := f.agent.Snapshot().SessionID

	sessions, err := f.agent.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	require.NoError(t, f.agent.OpenSession(ctx, first))
	assert.Equal(t, []string{"user:first chat", "assistant:one"}, roles(f.agent.Snapshot().Messages))

	require.NoError(t, f.agent.DeleteSession(ctx, first))
	st := f.agent.Snapshot()
	assert.Empty(t, st.SessionID)
	assert.Empty(t, st.Messages)

	sessions, err = f.agent.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second, sessions[0].ID)

	assert.ErrorIs(t, f.agent.OpenSession(ctx, first), history.ErrSessionNotFound)
}

func TestListOnlineModels_AppendsOfflineEntry(t *testing.T) {
	f := newFixture(t)
	f.llm.models = []string{"llama3", "qwen"}
	f.settings.cfg.Offline.ModelPath = "/models/tiny.gguf"

	models, err := f.agent.ListOnlineModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3", "qwen", "Offline: tiny.gguf"}, models)

	f.llm.err = llm.ErrNoModels
	_, err = f.agent.ListOnlineModels(context.Background())
	assert.ErrorIs(t, err, llm.ErrNoModels)
}

func TestOnUpdate_ReceivesSnapshots(t *testing.T) {
	f := newFixture(t, script{deltas: []string{"a", "b"}})

	var (
		mu   sync.Mutex
		seen []UIState
	)
	f.agent.OnUpdate(func(s UIState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, f.agent.SendMessage(context.Background(), "hi"))
	f.agent.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 3)
	assert.True(t, seen[0].Generating)
	last := seen[len(seen)-1]
	assert.False(t, last.Generating)
	assert.Equal(t, "ab", last.Messages[1].Content)
}

func TestClose_UnloadsModelAndRejectsSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeModel(t, "tiny.gguf")
	require.NoError(t, f.agent.UpdateOfflineModelPath(ctx, path))
	require.NoError(t, f.agent.SelectModel(ctx, OfflineModelName(path)))

	require.NoError(t, f.agent.Close())

	_, loaded := f.models.Loaded()
	assert.False(t, loaded)
	assert.ErrorIs(t, f.agent.SendMessage(ctx, "hello"), ErrClosed)
}

func TestClose_DuringOfflineLoadLeavesNothingResident(t *testing.T) {
	f := newFixture(t)
	path := writeModel(t, "tiny.gguf")
	f.settings.cfg.LLM.Model = OfflinePrefix + "tiny.gguf"
	f.settings.cfg.Offline.ModelPath = path
	a := New(Deps{LLM: f.llm, Models: f.models, Store: f.store, Settings: f.settings, Now: func() time.Time { return fixedNow }})

	read, release := f.settings.hold()
	defer release()
	require.NoError(t, a.SendMessage(context.Background(), "hello"))
	<-read

	closed := make(chan error, 1)
	go func() { closed <- a.Close() }()
	time.Sleep(50 * time.Millisecond)
	release()
	require.NoError(t, <-closed)

	_, loaded := f.models.Loaded()
	assert.False(t, loaded)
	assert.Len(t, a.Snapshot().Messages, 1)
}

func TestOffline_PathClearedDuringSendLeavesNothingResident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeModel(t, "tiny.gguf")
	f.settings.cfg.LLM.Model = OfflinePrefix + "tiny.gguf"
	f.settings.cfg.Offline.ModelPath = path
	a := New(Deps{LLM: f.llm, Models: f.models, Store: f.store, Settings: f.settings, Now: func() time.Time { return fixedNow }})
	defer a.Close()

	read, release := f.settings.hold()
	defer release()
	require.NoError(t, a.SendMessage(ctx, "hello"))
	<-read

	// The worker already holds the old path.
	require.NoError(t, a.UpdateOfflineModelPath(ctx, ""))
	release()
	a.Wait()

	_, loaded := f.models.Loaded()
	assert.False(t, loaded)
	st := a.Snapshot()
	assert.Equal(t, "Model file not found", st.Error)
	assert.Equal(t, []string{"user:hello"}, roles(st.Messages))
}

func TestOfflineModelPathChanged_Unloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeModel(t, "tiny.gguf")
	require.NoError(t, f.agent.UpdateOfflineModelPath(ctx, path))
	require.NoError(t, f.agent.SelectModel(ctx, OfflineModelName(path)))
	require.True(t, f.models.IsLoaded(path))

	f.agent.OfflineModelPathChanged()

	_, loaded := f.models.Loaded()
	assert.False(t, loaded)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{offline.ErrModelFileNotFound, "Model file not found"},
		{fmt.Errorf("load: %w", offline.ErrModelNotLoaded), "Offline model is not loaded."},
		{&llm.ClientError{Kind: llm.KindTimeout, Message: "slow"}, "The server took too long to respond."},
		{llm.ErrInvalidAPIKey, "The API key was rejected."},
		{&llm.StreamError{Reason: "boom"}, "The server reported an error: boom"},
		{ErrBusy, "A reply is still being generated."},
		{fmt.Errorf("something else"), "something else"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UserMessage(tt.err))
	}
}

func TestAsk(t *testing.T) {
	f := newFixture(t, script{deltas: []string{"4"}}, script{err: &llm.StreamError{Reason: "model not found"}})
	ctx := context.Background()

	reply, err := f.agent.Ask(ctx, "2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", reply)

	_, err = f.agent.Ask(ctx, "again")
	var streamErr *llm.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "model not found", streamErr.Reason)

	_, err = f.agent.Ask(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestAsk_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := newFixture(t, script{deltas: []string{"never"}, block: block})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.agent.Ask(ctx, "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.agent.Snapshot().Generating)
}
