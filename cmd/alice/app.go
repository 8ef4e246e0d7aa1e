package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/comigor/alice-go/internal/agent"
	"github.com/comigor/alice-go/internal/config"
	"github.com/comigor/alice-go/internal/history"
	"github.com/comigor/alice-go/internal/llm"
	"github.com/comigor/alice-go/internal/logger"
	"github.com/comigor/alice-go/internal/offline"
	"github.com/comigor/alice-go/internal/telemetry"
	"github.com/comigor/alice-go/internal/tts"
	"github.com/comigor/alice-go/pkg/tools"
)

// app is the wired object graph shared by the commands.
type app struct {
	settings *config.Settings
	store    history.Store
	models   *offline.Manager
	agent    *agent.Agent
	tts      atomic.Pointer[tts.Client]
	shutdown telemetry.Shutdown
}

func newApp(ctx context.Context) (*app, error) {
	settings, err := config.OpenSettings()
	if err != nil {
		return nil, err
	}
	cfg := settings.Config()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		logger.L.Warn("telemetry disabled", "error", err)
		shutdown = func(context.Context) error { return nil }
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}

	a := &app{
		settings: settings,
		store:    history.OpenOrMemory(cfg.Storage.DBPath),
		models:   offline.NewManager(offline.NewPlaceholderEngine()),
		shutdown: shutdown,
	}
	a.tts.Store(tts.New(cfg.TTS))
	a.agent = agent.New(agent.Deps{
		LLM:      client,
		Models:   a.models,
		Store:    a.store,
		Settings: settings,
		Resolver: offline.NewResolver(cfg.Offline.ModelsDir),
	})

	settings.OnChange(a.reconfigure)
	settings.Watch()
	return a, nil
}

// reconfigure rebuilds the clients whose settings changed and releases the
// offline model when its path was changed or cleared.
func (a *app) reconfigure(prev, next config.Config) {
	if llmClientChanged(prev.LLM, next.LLM) {
		client, err := llm.New(next.LLM)
		if err != nil {
			logger.L.Error("llm client rebuild failed", "error", err)
		} else {
			a.agent.SetClient(client)
			logger.L.Info("llm client reconfigured", "base_url", next.LLM.BaseURL, "provider", next.LLM.Provider)
		}
	}
	if prev.Offline.ModelPath != next.Offline.ModelPath {
		a.agent.OfflineModelPathChanged()
	}
	if prev.TTS != next.TTS {
		a.tts.Store(tts.New(next.TTS))
	}
}

// llmClientChanged reports whether the fields baked into a client differ.
// Model and system prompt are read per request.
func llmClientChanged(prev, next config.LLMConfig) bool {
	prev.Model, next.Model = "", ""
	prev.SystemPrompt, next.SystemPrompt = "", ""
	return prev != next
}

func (a *app) speaker() *tts.Client {
	return a.tts.Load()
}

// Synthesize speaks through the current TTS client so settings edits apply
// without a restart.
func (a *app) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return a.speaker().Synthesize(ctx, text)
}

// toolManager registers the assistant operations exposed to MCP callers.
func (a *app) toolManager() *tools.ToolManager {
	tm := tools.NewToolManager()
	tm.RegisterTool(tools.NewSendMessageTool(a.agent))
	tm.RegisterTool(tools.NewListModelsTool(a.agent))
	tm.RegisterTool(tools.NewListSessionsTool(a.agent))
	return tm
}

func (a *app) Close() error {
	var errs []error
	errs = append(errs, a.agent.Close(), a.store.Close())
	if err := a.shutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}
