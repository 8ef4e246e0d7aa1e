package agent

import (
	"strings"

	"github.com/comigor/alice-go/internal/llm"
)

// DefaultSystemPrompt is used when no prompt is configured. {time}, {date}
// and {weekday} are replaced on every request.
const DefaultSystemPrompt = "You are Alice, a friendly voice and chat assistant. " +
	"Answer accurately and concisely; your replies may be read aloud, so prefer short sentences. " +
	"The current time is {time}. Today is {weekday}, {date}."

// systemPrompt renders the configured template for the current clock.
func (a *Agent) systemPrompt() string {
	tmpl := a.deps.Settings.Config().LLM.SystemPrompt
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultSystemPrompt
	}
	now := a.deps.Now()
	return strings.NewReplacer(
		"{time}", now.Format("15:04"),
		"{date}", now.Format("January 2, 2006"),
		"{weekday}", now.Weekday().String(),
	).Replace(tmpl)
}

// requestMessages is the online request context: the system prompt followed
// by the window.
func (a *Agent) requestMessages(win []ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(win)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt()})
	for _, m := range win {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// offlinePrompt flattens the window into a plain completion prompt.
func (a *Agent) offlinePrompt(win []ChatMessage) string {
	var b strings.Builder
	b.WriteString(a.systemPrompt())
	b.WriteString("\n\n")
	for _, m := range win {
		if m.Role == llm.RoleAssistant {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
