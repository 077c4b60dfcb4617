package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Arguments is the decoded argument mapping of one tool call.
type Arguments map[string]any

func (a Arguments) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

func (a Arguments) Int(key string, fallback int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments Arguments
}

type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

type Handler func(ctx context.Context, args Arguments) (string, error)

// Definition describes one callable tool: its parameter schema for the model
// plus the handler behind it. InjectTimezone marks time-sensitive tools that
// receive the caller's offset alongside the model-provided arguments.
type Definition struct {
	Name           string
	Description    string
	Parameters     map[string]any
	Required       []string
	InjectTimezone bool
	Handler        Handler
}

// Registry maps tool names to definitions. Registration order is preserved so
// schema lists sent to the model are stable.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

func New() *Registry {
	return &Registry{
		defs: make(map[string]Definition),
	}
}

func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}

	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)

	return nil
}

// Definitions returns all registered tools in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.defs[name])
	}

	return defs
}

// Dispatch resolves and invokes one tool call. It never returns an error:
// the caller is a model that only consumes text, so unknown tools and handler
// failures are rendered as error-flagged text results instead.
func (r *Registry) Dispatch(ctx context.Context, call ToolCall, userID, tzOffset string) ToolResult {
	r.mu.RLock()
	def, exists := r.defs[call.Name]
	r.mu.RUnlock()

	if !exists {
		slog.Warn("Unknown tool requested", "tool", call.Name)

		return ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("Error: tool %s not found", call.Name),
			IsError:    true,
		}
	}

	args := make(Arguments, len(call.Arguments)+2)
	for key, value := range call.Arguments {
		args[key] = value
	}

	args["user_id"] = userID
	if def.InjectTimezone {
		args["user_timezone"] = tzOffset
	}

	content, err := def.Handler(ctx, args)
	if err != nil {
		slog.Error("Tool call failed",
			"tool", call.Name,
			"error", err,
		)

		return ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("Error: %v", err),
			IsError:    true,
		}
	}

	return ToolResult{
		ToolCallID: call.ID,
		Content:    content,
	}
}
