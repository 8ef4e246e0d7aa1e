package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comigor/alice-go/internal/agent"
	"github.com/comigor/alice-go/internal/render"
)

var (
	askModel   string
	askSession string
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one message and print the reply",
	Long: `Sends a single message and prints the reply rendered as markdown.
The message is read from stdin when no argument is given.

Example:
  alice ask "what's on my mind today?"
  echo "summarize this" | alice ask --model llama3`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "model to use for this message")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "continue a stored session")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(b)
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to ask")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if askModel != "" {
		if err := a.agent.SelectModel(ctx, askModel); err != nil {
			return errors.New(agent.UserMessage(err))
		}
	}
	if askSession != "" {
		if err := a.agent.OpenSession(ctx, askSession); err != nil {
			return err
		}
	}

	reply, err := a.agent.Ask(ctx, text)
	if err != nil {
		return errors.New(agent.UserMessage(err))
	}
	fmt.Fprint(cmd.OutOrStdout(), render.New(os.Stdout, 100).Markdown(reply))
	return nil
}
