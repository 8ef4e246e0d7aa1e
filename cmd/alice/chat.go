package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/comigor/alice-go/internal/agent"
	"github.com/comigor/alice-go/internal/config"
	"github.com/comigor/alice-go/internal/render"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat",
	RunE:  runChat,
}

const chatHelp = `Commands:
  /new              start a new conversation
  /sessions         list stored conversations
  /open <id>        reopen a conversation
  /delete <id>      delete a conversation
  /models           list models
  /model <name>     select a model ("Offline: <file>" for the offline model)
  /offline <path>   set the offline model file (empty clears it)
  /say [file]       speak the last reply into a WAV file
  /quit             exit`

// streamPrinter writes the growing assistant reply of the current turn.
type streamPrinter struct {
	mu      sync.Mutex
	active  bool
	replyID string
	printed int
}

func (p *streamPrinter) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	p.replyID = ""
	p.printed = 0
}

// end flushes whatever st adds and stops printing.
func (p *streamPrinter) end(st agent.UIState) {
	p.onUpdate(st)
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

func (p *streamPrinter) onUpdate(st agent.UIState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || len(st.Messages) == 0 {
		return
	}
	last := st.Messages[len(st.Messages)-1]
	if last.Role != "assistant" {
		return
	}
	if last.ID != p.replyID {
		p.replyID = last.ID
		p.printed = 0
	}
	if len(last.Content) > p.printed {
		fmt.Print(last.Content[p.printed:])
		p.printed = len(last.Content)
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	stop := context.AfterFunc(ctx, a.agent.Cancel)
	defer stop()

	r := render.New(os.Stdout, 80)
	printer := &streamPrinter{}
	a.agent.OnUpdate(printer.onUpdate)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyFile := filepath.Join(config.Dir(), "chat_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if err := os.MkdirAll(config.Dir(), 0o755); err == nil {
			if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}
		line.Close()
	}()

	st := a.agent.Snapshot()
	fmt.Println(r.Style(render.TitleStyle, "alice") + r.Style(render.MutedStyle, fmt.Sprintf(" (%s, model %q) - /help for commands", st.Mode, st.SelectedModel)))

	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			// Ctrl+C, Ctrl+D or a closed terminal.
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := handleSlash(ctx, a, r, input)
			if err != nil {
				fmt.Fprintln(os.Stderr, r.Style(render.ErrorStyle, "[Error]"), agent.UserMessage(err))
			}
			if quit {
				return nil
			}
			continue
		}

		fmt.Print(r.Style(render.PromptStyle, "alice> "))
		printer.begin()
		if err := a.agent.SendMessage(ctx, input); err != nil {
			printer.end(agent.UIState{})
			fmt.Println()
			fmt.Fprintln(os.Stderr, r.Style(render.ErrorStyle, "[Error]"), agent.UserMessage(err))
			continue
		}
		a.agent.Wait()
		printer.end(a.agent.Snapshot())
		fmt.Println()
		if msg := a.agent.Snapshot().Error; msg != "" {
			fmt.Fprintln(os.Stderr, r.Style(render.ErrorStyle, "[Error]"), msg)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func handleSlash(ctx context.Context, a *app, r *render.Renderer, input string) (bool, error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Println(chatHelp)
	case "/new":
		a.agent.NewSession()
		fmt.Println(r.Style(render.InfoStyle, "New conversation."))
	case "/sessions":
		return false, printSessions(ctx, a, r)
	case "/open":
		if err := a.agent.OpenSession(ctx, arg); err != nil {
			return false, err
		}
		for _, m := range a.agent.Snapshot().Messages {
			fmt.Printf("%s %s\n", r.Style(render.MutedStyle, m.Role+">"), m.Content)
		}
	case "/delete":
		if err := a.agent.DeleteSession(ctx, arg); err != nil {
			return false, err
		}
		fmt.Println(r.Style(render.InfoStyle, "Deleted."))
	case "/models":
		return false, printModels(ctx, a)
	case "/model":
		if err := a.agent.SelectModel(ctx, arg); err != nil {
			return false, err
		}
		st := a.agent.Snapshot()
		fmt.Println(r.Style(render.InfoStyle, fmt.Sprintf("Using %s (%s).", st.SelectedModel, st.Mode)))
	case "/offline":
		if err := a.agent.UpdateOfflineModelPath(ctx, arg); err != nil {
			return false, err
		}
		fmt.Println(r.Style(render.InfoStyle, "Offline model path updated."))
	case "/say":
		out := arg
		if out == "" {
			out = "reply.wav"
		}
		reply := lastReply(a.agent.Snapshot())
		if reply == "" {
			return false, errors.New("nothing to say yet")
		}
		if err := speak(ctx, a, reply, out); err != nil {
			return false, err
		}
		fmt.Println(r.Style(render.InfoStyle, "Wrote "+out))
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func lastReply(st agent.UIState) string {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == "assistant" {
			return st.Messages[i].Content
		}
	}
	return ""
}
