package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/comigor/alice-go/internal/config"
	"github.com/comigor/alice-go/internal/logger"
)

// OllamaClient speaks the Ollama HTTP API: GET /api/tags and streaming
// POST /api/chat.
type OllamaClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	policy     RetryPolicy
	httpClient *http.Client
}

// NewOllamaClient builds a client from cfg. Timeout bounds the wait for
// response headers and then the wait for each streamed delta.
func NewOllamaClient(cfg config.LLMConfig) *OllamaClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	policy := DefaultRetryPolicy
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		policy.Delay = cfg.RetryDelay
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &OllamaClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		policy:     policy,
		httpClient: &http.Client{Transport: transport},
	}
}

func (c *OllamaClient) endpoint(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &ClientError{Kind: KindInvalidEndpoint, Message: fmt.Sprintf("invalid server URL %q", c.baseURL)}
	}
	return c.baseURL + path, nil
}

func (c *OllamaClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &ClientError{Kind: KindInvalidEndpoint, Message: "failed to create request", Cause: err}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// ListModels returns the model names the server offers.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, readErrorDetail(resp.Body))
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Kind: KindInvalidEndpoint, Message: "response is not a model list", Cause: err}
	}
	if len(result.Models) == 0 {
		return nil, ErrNoModels
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ChatStream starts a streaming chat request. Nothing is sent until the first
// call to Next on the returned stream.
func (c *OllamaClient) ChatStream(ctx context.Context, req ChatRequest) *Stream {
	req.Stream = true
	return NewStream(ctx, func(ctx context.Context) (DeltaSource, error) {
		return c.openChat(ctx, req)
	}, c.policy)
}

func (c *OllamaClient) openChat(ctx context.Context, chatReq ChatRequest) (DeltaSource, error) {
	ctx, span := tracer.Start(ctx, "ollama.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", chatReq.Model),
		attribute.Int("llm.messages", len(chatReq.Messages)),
	)
	requestCounter.Add(ctx, 1)

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &ClientError{Kind: KindBadResponse, Message: "failed to marshal request", Cause: err}
	}
	guard := newIdleGuard(ctx, c.timeout)
	req, err := c.newRequest(guard.ctx, http.MethodPost, "/api/chat", bytes.NewReader(body))
	if err != nil {
		guard.stop()
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classifyTransport(ctx, err)
		guard.stop()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer guard.stop()
		defer resp.Body.Close()
		err := classifyStatus(resp.StatusCode, readErrorDetail(resp.Body))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger.L.Debug("chat stream opened", "model", chatReq.Model, "messages", len(chatReq.Messages))
	return &bodySource{guard: guard, body: resp.Body, dec: NewDecoder(resp.Body)}, nil
}

// bodySource adapts a response body to DeltaSource, classifying read errors.
type bodySource struct {
	guard *idleGuard
	body  io.ReadCloser
	dec   *Decoder
}

func (b *bodySource) Next() (string, error) {
	return b.guard.read(func() (string, error) {
		delta, err := b.dec.Next()
		if err == nil || isStreamTerminal(err) {
			return delta, err
		}
		return "", classifyTransport(b.guard.ctx, err)
	})
}

func (b *bodySource) Close() error {
	defer b.guard.stop()
	return b.body.Close()
}

func isStreamTerminal(err error) bool {
	if err == io.EOF || err == ErrEmptyResponse {
		return true
	}
	_, ok := err.(*StreamError)
	return ok
}

// readErrorDetail pulls {"error": "..."} out of an error response body.
func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
