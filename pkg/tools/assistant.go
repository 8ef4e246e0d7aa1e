package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/comigor/alice-go/internal/history"
)

// Asker answers one message synchronously.
type Asker interface {
	Ask(ctx context.Context, text string) (string, error)
}

// ModelLister lists selectable model names.
type ModelLister interface {
	ListOnlineModels(ctx context.Context) ([]string, error)
}

// SessionLister lists stored conversations.
type SessionLister interface {
	Sessions(ctx context.Context) ([]history.Session, error)
}

// SendMessageTool forwards a message to the assistant and returns its reply.
type SendMessageTool struct {
	asker Asker
}

func NewSendMessageTool(a Asker) *SendMessageTool { return &SendMessageTool{asker: a} }

func (t *SendMessageTool) Name() string { return "send_message" }

func (t *SendMessageTool) Description() string {
	return "Sends a message to the assistant in the current conversation and returns the full reply."
}

func (t *SendMessageTool) Params() []Param {
	return []Param{{Name: "text", Description: "Message to send", Required: true}}
}

func (t *SendMessageTool) Run(ctx context.Context, args map[string]any) (string, error) {
	return t.asker.Ask(ctx, StringArg(args, "text"))
}

// ListModelsTool returns the selectable models, one per line.
type ListModelsTool struct {
	lister ModelLister
}

func NewListModelsTool(l ModelLister) *ListModelsTool { return &ListModelsTool{lister: l} }

func (t *ListModelsTool) Name() string { return "list_models" }

func (t *ListModelsTool) Description() string {
	return "Lists the models available on the chat server plus the configured offline model."
}

func (t *ListModelsTool) Params() []Param { return nil }

func (t *ListModelsTool) Run(ctx context.Context, _ map[string]any) (string, error) {
	models, err := t.lister.ListOnlineModels(ctx)
	if err != nil && len(models) == 0 {
		return "", err
	}
	return strings.Join(models, "\n"), nil
}

// ListSessionsTool returns stored sessions as a JSON array.
type ListSessionsTool struct {
	lister SessionLister
}

func NewListSessionsTool(l SessionLister) *ListSessionsTool { return &ListSessionsTool{lister: l} }

func (t *ListSessionsTool) Name() string { return "list_sessions" }

func (t *ListSessionsTool) Description() string {
	return "Lists stored conversations, newest first, as JSON."
}

func (t *ListSessionsTool) Params() []Param { return nil }

func (t *ListSessionsTool) Run(ctx context.Context, _ map[string]any) (string, error) {
	sessions, err := t.lister.Sessions(ctx)
	if err != nil {
		return "", err
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	b, err := json.Marshal(sessions)
	if err != nil {
		return "", fmt.Errorf("encode sessions: %w", err)
	}
	return string(b), nil
}
