package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/alice-go/internal/config"
)

func testConfig(url string) config.LLMConfig {
	return config.LLMConfig{
		Provider:    config.ProviderOllama,
		BaseURL:     url,
		Model:       "llama3:8b",
		Timeout:     2 * time.Second,
		RetryDelay:  5 * time.Millisecond,
		MaxAttempts: 2,
	}
}

func TestOllamaClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b","size":1},{"name":"qwen2.5:7b","size":2}]}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/")
	cfg.APIKey = "secret"
	names, err := NewOllamaClient(cfg).ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"llama3:8b", "qwen2.5:7b"}, names)
}

func TestOllamaClient_ListModelsErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name:    "no models",
			handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"models":[]}`) },
			wantErr: ErrNoModels,
		},
		{
			name:    "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			wantErr: ErrInvalidAPIKey,
		},
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			wantErr: ErrInvalidEndpoint,
		},
		{
			name:    "not an ollama server",
			handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `<html>hello</html>`) },
			wantErr: ErrInvalidEndpoint,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := NewOllamaClient(testConfig(srv.URL)).ListModels(context.Background())
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestOllamaClient_InvalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "ftp://host", "not a url"} {
		_, err := NewOllamaClient(testConfig(u)).ListModels(context.Background())
		require.ErrorIs(t, err, ErrInvalidEndpoint, u)
	}
}

func TestOllamaClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllamaClient(testConfig(url)).ListModels(context.Background())
	require.ErrorIs(t, err, ErrUnreachable)

	s := NewOllamaClient(testConfig(url)).ChatStream(context.Background(), ChatRequest{Model: "m"})
	_, err = Collect(s)
	require.ErrorIs(t, err, ErrUnreachable)
	require.Equal(t, 2, s.Attempts())
}

func TestOllamaClient_ChatStream(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hi"},"done":false}`)
		w.(http.Flusher).Flush()
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" there"},"done":false}`)
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer srv.Close()

	req := ChatRequest{
		Model:    "llama3:8b",
		Messages: []Message{{Role: RoleSystem, Content: "be brief"}, {Role: RoleUser, Content: "hello"}},
	}
	s := NewOllamaClient(testConfig(srv.URL)).ChatStream(context.Background(), req)

	var deltas []string
	for delta, err := range s.Deltas() {
		require.NoError(t, err)
		deltas = append(deltas, delta)
	}
	require.Equal(t, []string{"Hi", " there"}, deltas)
	require.Equal(t, "Hi there", s.Text())
	require.NoError(t, s.Err())

	require.True(t, got.Stream)
	require.Equal(t, "llama3:8b", got.Model)
	require.Equal(t, req.Messages, got.Messages)
}

func TestOllamaClient_ChatStreamAuthNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"bad token"}`)
	}))
	defer srv.Close()

	_, err := Collect(NewOllamaClient(testConfig(srv.URL)).ChatStream(context.Background(), ChatRequest{Model: "m"}))
	require.ErrorIs(t, err, ErrInvalidAPIKey)
	require.Contains(t, err.Error(), "bad token")
	require.EqualValues(t, 1, calls.Load())
}

func TestOllamaClient_ChatStreamRetriesDroppedConnection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		fmt.Fprintln(w, `{"message":{"content":"recovered"}}`)
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer srv.Close()

	text, err := Collect(NewOllamaClient(testConfig(srv.URL)).ChatStream(context.Background(), ChatRequest{Model: "m"}))
	require.NoError(t, err)
	require.Equal(t, "recovered", text)
	require.EqualValues(t, 2, calls.Load())
}

func TestOllamaClient_ChatStreamHeaderTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 30 * time.Millisecond
	_, err := Collect(NewOllamaClient(cfg).ChatStream(context.Background(), ChatRequest{Model: "m"}))
	require.ErrorIs(t, err, ErrTimeout)
	require.EqualValues(t, 2, calls.Load())
}

func stallingServer(t *testing.T, calls *atomic.Int32, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
}

func TestOllamaClient_ChatStreamStalledBodyTimesOut(t *testing.T) {
	var calls atomic.Int32
	srv := stallingServer(t, &calls)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 100 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	s := NewOllamaClient(cfg).ChatStream(ctx, ChatRequest{Model: "m"})
	_, err := Collect(s)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 2, s.Attempts())
	require.EqualValues(t, 2, calls.Load())
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestOllamaClient_ChatStreamStallAfterDeltaNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := stallingServer(t, &calls, `{"message":{"content":"partial"}}`)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 100 * time.Millisecond
	s := NewOllamaClient(cfg).ChatStream(context.Background(), ChatRequest{Model: "m"})
	text, err := Collect(s)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, "partial", text)
	require.Equal(t, 1, s.Attempts())
}

func TestOllamaClient_ChatStreamInStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"rate limited"}`)
	}))
	defer srv.Close()

	s := NewOllamaClient(testConfig(srv.URL)).ChatStream(context.Background(), ChatRequest{Model: "m"})
	_, err := Collect(s)
	require.EqualError(t, err, "rate limited")
	require.Zero(t, s.Emitted())
	require.Equal(t, 1, s.Attempts())
}

func TestNew(t *testing.T) {
	c, err := New(config.LLMConfig{Provider: config.ProviderOllama})
	require.NoError(t, err)
	require.IsType(t, &OllamaClient{}, c)

	c, err = New(config.LLMConfig{Provider: config.ProviderOpenAI})
	require.NoError(t, err)
	require.IsType(t, &OpenAIClient{}, c)

	_, err = New(config.LLMConfig{Provider: "carrier-pigeon"})
	require.Error(t, err)
}
