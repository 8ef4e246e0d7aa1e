// Package server is the HTTP API of alice.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/comigor/alice-go/internal/agent"
	"github.com/comigor/alice-go/internal/config"
	"github.com/comigor/alice-go/internal/history"
	"github.com/comigor/alice-go/internal/logger"
	"github.com/comigor/alice-go/internal/offline"
)

const maxBodyBytes = 64 << 10

// Assistant is the orchestrator surface served over HTTP.
type Assistant interface {
	Ask(ctx context.Context, text string) (string, error)
	ListOnlineModels(ctx context.Context) ([]string, error)
	SelectModel(ctx context.Context, name string) error
	Sessions(ctx context.Context) ([]history.Session, error)
	NewSession()
	OpenSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	Snapshot() agent.UIState
}

// Speaker synthesizes speech; nil disables POST /tts.
type Speaker interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Server struct {
	assistant Assistant
	speaker   Speaker
	cfg       config.ServerConfig
	limiter   *rate.Limiter
}

func New(a Assistant, speaker Speaker, cfg config.ServerConfig) *Server {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Server{
		assistant: a,
		speaker:   speaker,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Handler returns the routed, rate limited handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("POST /models/select", s.handleSelectModel)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("POST /sessions", s.handleNewSession)
	mux.HandleFunc("POST /sessions/{id}/open", s.handleOpenSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /tts", s.handleTTS)
	return s.limit(mux)
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			logger.L.Warn("rate limited", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// readText reads the request body as a message. JSON bodies may carry the
// text in a "text" field; anything else is taken verbatim.
func readText(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return "", fmt.Errorf("decode body: %w", err)
		}
		return req.Text, nil
	}
	return string(body), nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	text, err := readText(r)
	if err != nil {
		logger.L.Error("read body error", "err", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	logger.L.Info("chat request", "chars", len(text))

	reply, err := s.assistant.Ask(r.Context(), text)
	if err != nil {
		logger.L.Error("chat error", "err", err)
		http.Error(w, agent.UserMessage(err), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, reply)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.assistant.ListOnlineModels(r.Context())
	if err != nil && len(models) == 0 {
		http.Error(w, agent.UserMessage(err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	name, err := readText(r)
	if err != nil || strings.TrimSpace(name) == "" {
		http.Error(w, "model name required", http.StatusBadRequest)
		return
	}
	if err := s.assistant.SelectModel(r.Context(), name); err != nil {
		http.Error(w, agent.UserMessage(err), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, s.assistant.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.assistant.Sessions(r.Context())
	if err != nil {
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	s.assistant.NewSession()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	if err := s.assistant.OpenSession(r.Context(), r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, s.assistant.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.assistant.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.assistant.Snapshot())
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.speaker == nil {
		http.Error(w, "text-to-speech is not configured", http.StatusNotImplemented)
		return
	}
	text, err := readText(r)
	if err != nil || strings.TrimSpace(text) == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	audio, err := s.speaker.Synthesize(r.Context(), text)
	if err != nil {
		logger.L.Error("tts error", "err", err)
		http.Error(w, "speech synthesis failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(audio)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, offline.ErrModelFileNotFound), errors.Is(err, offline.ErrPermissionDenied):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("encode response", "error", err)
	}
}
