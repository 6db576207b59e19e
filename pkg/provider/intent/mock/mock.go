// Package mock provides a scripted [intent.Engine] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/types"
)

// Engine is a test double. It returns intents from a script in order,
// repeating the last entry once exhausted, and records every inference input.
type Engine struct {
	// Err, when non-nil, is returned by every Infer call.
	Err error

	mu     sync.Mutex
	script []types.Intent
	calls  int
	texts  []string
	tools  [][]types.ToolDefinition
}

// NewEngine returns an Engine that plays back the given intents.
func NewEngine(script ...types.Intent) *Engine {
	return &Engine{script: script}
}

// Infer implements intent.Engine.
func (e *Engine) Infer(_ context.Context, text string, tools []types.ToolDefinition) (types.Intent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.texts = append(e.texts, text)
	e.tools = append(e.tools, tools)

	if e.Err != nil {
		return types.Intent{}, e.Err
	}

	var out types.Intent
	if len(e.script) > 0 {
		idx := e.calls
		if idx >= len(e.script) {
			idx = len(e.script) - 1
		}
		out = e.script[idx]
	}
	e.calls++
	return out, nil
}

// Calls returns how many times Infer was invoked.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// ReceivedTexts returns the transcripts passed to Infer, in order.
func (e *Engine) ReceivedTexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.texts))
	copy(out, e.texts)
	return out
}

// ReceivedTools returns the tool sets passed to Infer, in order.
func (e *Engine) ReceivedTools() [][]types.ToolDefinition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]types.ToolDefinition, len(e.tools))
	copy(out, e.tools)
	return out
}
