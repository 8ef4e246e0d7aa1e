package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/comigor/alice-go/internal/logger"
)

// ToolManager manages the available tools
type ToolManager struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolManager creates a new ToolManager
func NewToolManager() *ToolManager {
	return &ToolManager{
		tools: make(map[string]Tool),
	}
}

// RegisterTool registers a new tool; a tool with the same name is replaced.
func (m *ToolManager) RegisterTool(tool Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tools[tool.Name()]; exists {
		logger.L.Warn("tool already registered, replacing", "tool", tool.Name())
	}
	m.tools[tool.Name()] = tool
}

// List returns all registered tools sorted by name
func (m *ToolManager) List() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts := make([]Tool, 0, len(m.tools))
	for _, t := range m.tools {
		ts = append(ts, t)
	}
	slices.SortFunc(ts, func(a, b Tool) int { return strings.Compare(a.Name(), b.Name()) })
	return ts
}

// GetTool retrieves a tool by name
func (m *ToolManager) GetTool(name string) (Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tool, ok := m.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// Run validates required parameters and executes the named tool.
func (m *ToolManager) Run(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, err := m.GetTool(name)
	if err != nil {
		return "", err
	}
	for _, p := range tool.Params() {
		if !p.Required {
			continue
		}
		if s, _ := args[p.Name].(string); strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%s: missing required argument %q", name, p.Name)
		}
	}
	logger.L.Debug("running tool", "tool", name, "arguments", args)
	return tool.Run(ctx, args)
}

// StringArg returns args[name] when it is a string.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}
