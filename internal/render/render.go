// Package render formats assistant output for the terminal.
package render

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	ErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	InfoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	MutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	TitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
)

// Renderer turns markdown replies into styled terminal text. Rendering is
// skipped when the output is not a terminal so piped output stays plain.
type Renderer struct {
	md  *glamour.TermRenderer
	tty bool
}

// New returns a renderer for f wrapping at width columns.
func New(f *os.File, width int) *Renderer {
	r := &Renderer{tty: f != nil && term.IsTerminal(int(f.Fd()))}
	if !r.tty {
		return r
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		r.md = md
	}
	return r
}

// TTY reports whether output goes to a terminal.
func (r *Renderer) TTY() bool {
	return r.tty
}

// Markdown renders content; it falls back to the raw text on any failure.
func (r *Renderer) Markdown(content string) string {
	if r.md == nil {
		return ensureNewline(content)
	}
	out, err := r.md.Render(content)
	if err != nil {
		return ensureNewline(content)
	}
	return out
}

// Style applies s only on a terminal.
func (r *Renderer) Style(s lipgloss.Style, text string) string {
	if !r.tty {
		return text
	}
	return s.Render(text)
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
