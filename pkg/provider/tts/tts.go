// Package tts defines the Synthesizer contract for text-to-speech backends.
//
// The pipeline speaks one short response per command cycle, so the contract is
// a single blocking batch call: text in, PCM out. Streaming synthesis is a
// backend concern hidden behind this call.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Audio is the result of one synthesis call.
type Audio struct {
	// Samples is mono float32 PCM.
	Samples []float32

	// SampleRate in Hz at which Samples were produced.
	SampleRate int
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text as speech using the given provider-specific
	// voice identifier. An empty voice selects the backend's default.
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}
