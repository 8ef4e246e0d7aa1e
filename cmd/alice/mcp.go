package main

import (
	"github.com/spf13/cobra"

	"github.com/comigor/alice-go/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the assistant as an MCP server on stdio",
	Long:  `Exposes send_message, list_models and list_sessions as Model Context Protocol tools over stdin/stdout.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return mcpserver.New("alice", version, a.toolManager()).ServeStdio()
	},
}
