// Package mock provides a scripted [tts.Synthesizer] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/tts"
)

// Synthesizer is a test double. It returns a fixed-length buffer of audio per
// call and records every synthesised text.
type Synthesizer struct {
	// Err, when non-nil, is returned by every Synthesize call.
	Err error

	// SampleRate of returned audio. Default 22050.
	SampleRate int

	mu    sync.Mutex
	texts []string
}

// NewSynthesizer returns a ready mock.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{SampleRate: 22050}
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(_ context.Context, text, _ string) (tts.Audio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return tts.Audio{}, s.Err
	}
	s.texts = append(s.texts, text)

	// One sample per character keeps test assertions simple.
	return tts.Audio{Samples: make([]float32, len(text)), SampleRate: s.SampleRate}, nil
}

// SpokenTexts returns the texts passed to Synthesize, in order.
func (s *Synthesizer) SpokenTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}
