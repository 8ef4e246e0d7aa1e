// Package mcpserver exposes the tool registry over the Model Context
// Protocol so other assistants can talk to alice.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/alice-go/internal/logger"
	"github.com/comigor/alice-go/pkg/tools"
)

// Server wraps an MCP server whose tools come from a ToolManager.
type Server struct {
	mcp   *server.MCPServer
	tools *tools.ToolManager
}

// New registers every tool of tm on a fresh MCP server.
func New(name, version string, tm *tools.ToolManager) *Server {
	s := &Server{
		mcp:   server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		tools: tm,
	}
	for _, t := range tm.List() {
		s.mcp.AddTool(toMCPTool(t), s.handler(t.Name()))
		logger.L.Info("Registered MCP tool", "tool", t.Name())
	}
	return s
}

func toMCPTool(t tools.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description())}
	for _, p := range t.Params() {
		propOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		opts = append(opts, mcp.WithString(p.Name, propOpts...))
	}
	return mcp.NewTool(t.Name(), opts...)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := s.tools.Run(ctx, name, request.GetArguments())
		if err != nil {
			logger.L.Warn("MCP tool failed", "tool", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

// MCP returns the underlying server, e.g. for HTTP transports.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves requests on stdin/stdout until EOF or a signal.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}
