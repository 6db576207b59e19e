package resilience

import (
	"context"

	"github.com/earshot-ai/earshot/pkg/provider/tts"
)

// SynthesizerFallback implements [tts.Synthesizer] with automatic failover
// across multiple synthesis backends. Each backend has its own circuit
// breaker.
type SynthesizerFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// preferred backend.
func NewSynthesizerFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *SynthesizerFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize implements tts.Synthesizer against the first healthy backend.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) (tts.Audio, error) {
		return s.Synthesize(ctx, text, voice)
	})
}
