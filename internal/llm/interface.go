package llm

import (
	"context"
	"fmt"

	"github.com/comigor/alice-go/internal/config"
)

// Client is the subset of backend operations the agent needs; it is easy to
// mock in tests.
type Client interface {
	ListModels(ctx context.Context) ([]string, error)
	ChatStream(ctx context.Context, req ChatRequest) *Stream
}

// New returns the client for cfg.Provider.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", config.ProviderOllama:
		return NewOllamaClient(cfg), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
