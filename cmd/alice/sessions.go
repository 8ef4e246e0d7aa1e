package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/comigor/alice-go/internal/render"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return printSessions(cmd.Context(), a, nil)
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		msgs, err := a.store.ListMessages(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if _, err := a.store.GetSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Role, m.Content)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.agent.DeleteSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsShowCmd, sessionsDeleteCmd)
}

func printSessions(ctx context.Context, a *app, r *render.Renderer) error {
	sessions, err := a.agent.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No saved sessions found.")
		return nil
	}
	for _, s := range sessions {
		when := s.CreatedAt.Format("2006-01-02 15:04")
		if r != nil {
			when = r.Style(render.MutedStyle, when)
		}
		fmt.Printf("%s  %s  %s\n", s.ID, when, s.Title)
	}
	return nil
}
