package resilience

import (
	"context"
	"errors"

	"github.com/earshot-ai/earshot/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple transcription backends. Each backend has its own circuit
// breaker.
//
// [stt.ErrNoAudio] is an answer, not a backend failure: it neither trips the
// breaker nor advances to the next backend.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe implements stt.Transcriber against the first healthy backend.
func (f *TranscriberFallback) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	var noAudio error
	text, err := ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		out, terr := t.Transcribe(ctx, samples, language)
		if errors.Is(terr, stt.ErrNoAudio) {
			noAudio = terr
			return "", nil
		}
		return out, terr
	})
	if err == nil && noAudio != nil {
		return "", noAudio
	}
	return text, err
}
