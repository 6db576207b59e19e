// Package vad defines the Scorer contract for voice-activity scoring backends.
//
// A scorer wraps a recurrent frame-level speech model (e.g., Silero VAD). The
// model carries hidden state between windows, so the contract threads that
// state explicitly: each call receives the state returned by the previous call
// and returns the updated state. The state blob is opaque to callers — only
// the backend that produced it can interpret it.
//
// Because the state forms a sequential chain, windows for one audio stream
// must be scored in arrival order and never concurrently. The pipeline
// enforces this by issuing all calls from its single consumer goroutine.
package vad

import "context"

// State is the opaque recurrent hidden state of a scoring backend. A nil State
// means "initial state"; backends must accept nil and return a usable state.
// Callers never inspect or modify the contents.
type State []byte

// Scorer is the abstraction over any voice-activity scoring backend.
//
// Implementations may be used by multiple independent streams concurrently as
// long as each stream threads its own State chain; the implementation itself
// must not keep per-stream mutable state.
type Scorer interface {
	// Score returns the speech probability (0.0–1.0) for one analysis window
	// of mono float32 PCM, together with the updated hidden state to pass
	// into the next call. state is the value returned by the previous Score
	// call for this stream, or nil for the first window.
	Score(ctx context.Context, window []float32, state State) (float64, State, error)
}
