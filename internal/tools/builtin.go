package tools

import (
	"context"
	"time"
)

// CurrentTimeTool reports the current time, optionally in a named location.
type CurrentTimeTool struct{}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Description() string {
	return "Returns the current date and time, optionally for an IANA timezone passed as 'location'."
}

func (t *CurrentTimeTool) Execute(ctx context.Context, args map[string]any, ectx map[string]any) (any, error) {
	now := time.Now()
	if name := GetString(args, "location", ""); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, err
		}
		now = now.In(loc)
	}
	return now.Format(time.RFC3339), nil
}

// EchoTool returns its 'text' argument after template interpolation done
// upstream. Useful for wiring checks.
type EchoTool struct{}

func (t *EchoTool) Name() string { return "echo" }

func (t *EchoTool) Description() string {
	return "Echoes the 'text' argument back to the caller."
}

func (t *EchoTool) Execute(ctx context.Context, args map[string]any, ectx map[string]any) (any, error) {
	return GetString(args, "text", ""), nil
}

// DefaultRegistry returns a registry with the built-in tools registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&CurrentTimeTool{})
	r.Register(&EchoTool{})
	return r
}
