// Package tools holds the named operations alice exposes to external callers
// (the MCP server). Each tool declares its string parameters and runs with a
// decoded argument map.
package tools

import "context"

// Param describes one string argument of a tool.
type Param struct {
	Name        string
	Description string
	Required    bool
}

// Tool is the interface for all tools
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Run(ctx context.Context, args map[string]any) (string, error)
}
