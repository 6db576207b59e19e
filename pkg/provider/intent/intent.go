// Package intent defines the Engine contract for intent-inference backends.
//
// An intent engine receives a command transcript plus the set of available
// tool schemas and decides whether the command maps to a tool invocation, a
// direct spoken answer, or both. The pipeline dispatches the chosen tool (if
// any) and speaks the final response.
//
// Implementations must be safe for concurrent use.
package intent

import (
	"context"
	"errors"

	"github.com/earshot-ai/earshot/pkg/types"
)

// ErrParse is returned (wrapped) when the backend produced output that could
// not be interpreted as a well-formed intent — for example, tool-call
// arguments that are not valid JSON. The pipeline recovers from this error by
// falling back to a plain-text response with no function call.
var ErrParse = errors.New("intent: malformed engine output")

// Engine is the abstraction over any intent-inference backend.
type Engine interface {
	// Infer maps text to an [types.Intent] given the available tools.
	// When the backend selects no tool, Intent.Function is empty and
	// Intent.Response carries the direct answer.
	Infer(ctx context.Context, text string, tools []types.ToolDefinition) (types.Intent, error)
}
