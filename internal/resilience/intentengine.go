package resilience

import (
	"context"

	"github.com/earshot-ai/earshot/pkg/provider/intent"
	"github.com/earshot-ai/earshot/pkg/types"
)

// IntentFallback implements [intent.Engine] with automatic failover across
// multiple inference backends. Each backend has its own circuit breaker.
//
// A parse failure ([intent.ErrParse]) counts as a backend failure and moves
// on to the next backend; an engine that consistently emits malformed output
// is as useless as one that is down.
type IntentFallback struct {
	group *FallbackGroup[intent.Engine]
}

// Compile-time interface assertion.
var _ intent.Engine = (*IntentFallback)(nil)

// NewIntentFallback creates an [IntentFallback] with primary as the preferred
// backend.
func NewIntentFallback(primary intent.Engine, primaryName string, cfg FallbackConfig) *IntentFallback {
	return &IntentFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional intent engine as a fallback.
func (f *IntentFallback) AddFallback(name string, e intent.Engine) {
	f.group.AddFallback(name, e)
}

// Infer implements intent.Engine against the first healthy backend.
func (f *IntentFallback) Infer(ctx context.Context, text string, tools []types.ToolDefinition) (types.Intent, error) {
	return ExecuteWithResult(f.group, func(e intent.Engine) (types.Intent, error) {
		return e.Infer(ctx, text, tools)
	})
}
