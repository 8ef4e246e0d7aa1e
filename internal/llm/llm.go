package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/alice-go/internal/config"
)

// newOpenAIAPI creates a new OpenAI client
func newOpenAIAPI(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(config)
}

// OpenAIClient streams from an OpenAI-compatible /v1/chat/completions
// endpoint and exposes it through the same Stream contract as OllamaClient.
type OpenAIClient struct {
	api     *openai.Client
	timeout time.Duration
	policy  RetryPolicy
}

func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	policy := DefaultRetryPolicy
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		policy.Delay = cfg.RetryDelay
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIClient{api: newOpenAIAPI(cfg), timeout: timeout, policy: policy}
}

func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, classifyOpenAI(ctx, err)
	}
	if len(list.Models) == 0 {
		return nil, ErrNoModels
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.ID)
	}
	return names, nil
}

func (c *OpenAIClient) ChatStream(ctx context.Context, req ChatRequest) *Stream {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   true,
	}
	if req.Options != nil {
		apiReq.Temperature = float32(req.Options.Temperature)
		apiReq.MaxTokens = req.Options.NumPredict
	}

	return NewStream(ctx, func(ctx context.Context) (DeltaSource, error) {
		ctx, span := tracer.Start(ctx, "openai.chat")
		defer span.End()
		requestCounter.Add(ctx, 1)

		guard := newIdleGuard(ctx, c.timeout)
		s, err := c.api.CreateChatCompletionStream(guard.ctx, apiReq)
		if err != nil {
			guard.stop()
			return nil, classifyOpenAI(ctx, err)
		}
		return &openAISource{guard: guard, stream: s}, nil
	}, c.policy)
}

type openAISource struct {
	guard  *idleGuard
	stream *openai.ChatCompletionStream
}

func (s *openAISource) Next() (string, error) {
	return s.guard.read(func() (string, error) {
		for {
			resp, err := s.stream.Recv()
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			if err != nil {
				return "", classifyOpenAI(s.guard.ctx, err)
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			return resp.Choices[0].Delta.Content, nil
		}
	})
}

func (s *openAISource) Close() error {
	defer s.guard.stop()
	return s.stream.Close()
}

// classifyOpenAI maps go-openai errors onto the client error kinds.
func classifyOpenAI(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 0 {
			return &StreamError{Reason: apiErr.Message}
		}
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		detail := ""
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		if reqErr.HTTPStatusCode == http.StatusOK {
			return &ClientError{Kind: KindBadResponse, Message: "malformed response", Cause: reqErr}
		}
		return classifyStatus(reqErr.HTTPStatusCode, detail)
	}
	return classifyTransport(ctx, fmt.Errorf("openai: %w", err))
}
