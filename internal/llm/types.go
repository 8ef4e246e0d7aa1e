// Package llm talks to online chat-completion backends and turns their
// streamed responses into text deltas.
package llm

import "time"

// Roles used in chat requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat request context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries sampling parameters for /api/chat.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ChatRequest is the request body for /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// ModelInfo is one entry of the /api/tags response.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
}

// ListModelsResponse is the response body of /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}
