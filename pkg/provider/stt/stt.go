// Package stt defines the Transcriber contract for speech-to-text backends.
//
// Earshot transcribes one complete command utterance at a time — the pipeline
// hands over the full captured recording after the voice-activity end edge —
// so the contract is a single blocking batch call rather than a streaming
// session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when the supplied utterance is empty or too short to
// transcribe. Wrap it so callers can test with errors.Is.
var ErrNoAudio = errors.New("stt: no usable audio in utterance")

// Transcriber is the abstraction over any batch speech-to-text backend.
type Transcriber interface {
	// Transcribe converts an utterance of mono float32 PCM at 16 kHz into
	// text. language is a BCP-47 hint (e.g., "en"); implementations may
	// ignore it. An empty transcript with a nil error means the backend
	// heard no speech — that is not a failure.
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
}
