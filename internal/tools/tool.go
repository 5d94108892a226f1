// Package tools provides the named tool framework invoked by TOOL_CALL
// actions.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/zapfluxo/zapfluxo/internal/action"
)

// Tool is the interface all callable tools implement.
type Tool interface {
	// Name returns the tool identifier used by TOOL_CALL params.
	Name() string
	// Description returns a human-readable description.
	Description() string
	// Execute runs the tool. args come from the action params, ectx is
	// the execution context assembled at confirmation time.
	Execute(ctx context.Context, args map[string]any, ectx map[string]any) (any, error)
}

// Registry manages tool registration and dispatch. It implements the
// runner's ToolCaller interface.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any prior tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call dispatches to a tool by name. An unknown tool or a tool error is
// reported in the result, not as a Go error; only the registry itself
// failing would return one.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any, ectx map[string]any) (*action.ToolResult, error) {
	tool, ok := r.tools[name]
	if !ok {
		return &action.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", name),
		}, nil
	}
	out, err := tool.Execute(ctx, args, ectx)
	if err != nil {
		return &action.ToolResult{Success: false, Error: err.Error()}, nil
	}
	return &action.ToolResult{Success: true, Result: out}, nil
}

// GetString extracts a string argument with a default value.
func GetString(args map[string]any, key, defaultVal string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}
