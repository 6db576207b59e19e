// Package tools provides the tool registry: the named business-logic handlers
// the pipeline can dispatch to after intent inference (play a video, navigate,
// answer a question). Handlers are registered while the pipeline is idle; the
// registry is locked for registration while a pipeline is running.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/earshot-ai/earshot/pkg/types"
)

// Handler executes one tool call. Parameters are the parsed arguments from
// intent inference. Any returned error is converted by the pipeline into a
// user-facing apology; it never tears the pipeline down.
type Handler func(ctx context.Context, params map[string]any) (types.ToolResult, error)

// ErrRegistryLocked is returned by Register while a pipeline is running.
var ErrRegistryLocked = fmt.Errorf("tools: registry is locked while the pipeline is running")

// ErrUnknownTool is returned by Dispatch for an unregistered tool name.
var ErrUnknownTool = fmt.Errorf("tools: unknown tool")

// Registry maps tool names to handlers and their model-facing definitions.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	locked   bool
	handlers map[string]Handler
	defs     map[string]types.ToolDefinition
}

// NewRegistry returns an empty, unlocked registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		defs:     make(map[string]types.ToolDefinition),
	}
}

// Register adds a tool. Registering a name twice replaces the earlier entry.
// Returns ErrRegistryLocked while a pipeline is running.
func (r *Registry) Register(def types.ToolDefinition, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tools: tool name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("tools: handler for %q must not be nil", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return ErrRegistryLocked
	}
	r.handlers[def.Name] = h
	r.defs[def.Name] = def
	return nil
}

// Definitions returns all registered tool definitions, sorted by name for
// stable prompt construction.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ToolDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Dispatch invokes the named tool handler. Returns ErrUnknownTool (wrapped)
// when no such tool is registered.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any) (types.ToolResult, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return types.ToolResult{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return h(ctx, params)
}

// Lock rejects further registrations until Unlock. Called by the pipeline on
// start.
func (r *Registry) Lock() {
	r.mu.Lock()
	r.locked = true
	r.mu.Unlock()
}

// Unlock re-enables registration. Called by the pipeline on stop.
func (r *Registry) Unlock() {
	r.mu.Lock()
	r.locked = false
	r.mu.Unlock()
}
