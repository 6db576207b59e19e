package pipeline

import (
	"fmt"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// Audio framing constants at the pipeline's fixed 16 kHz mono rate.
const (
	// SampleRate is the sample rate the detection chain operates at.
	SampleRate = 16000

	// DefaultWindowSize is the analysis window length in samples (1.08 s).
	DefaultWindowSize = 17280

	// DefaultHopSize is the stride between consecutive windows in samples
	// (0.12 s). Hop < window, so consecutive windows overlap.
	DefaultHopSize = 1920
)

// FrameBatcher accumulates raw audio samples and slices them into fixed-size
// overlapping analysis windows. Each emitted window is exactly windowSize
// samples and starts hopSize samples after the previous one; samples are
// never duplicated across emissions or dropped except by the stride rollover.
//
// Not safe for concurrent use; the orchestrator owns it from a single
// goroutine.
type FrameBatcher struct {
	ring       audio.SampleDeque
	windowSize int
	hopSize    int
}

// NewFrameBatcher constructs a batcher with the given window and hop lengths
// in samples. Hop must be positive and no larger than the window.
func NewFrameBatcher(windowSize, hopSize int) (*FrameBatcher, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("pipeline: window size must be positive, got %d", windowSize)
	}
	if hopSize <= 0 || hopSize > windowSize {
		return nil, fmt.Errorf("pipeline: hop size must be in (0, %d], got %d", windowSize, hopSize)
	}
	return &FrameBatcher{windowSize: windowSize, hopSize: hopSize}, nil
}

// Push appends samples to the ring.
func (b *FrameBatcher) Push(samples []float32) {
	b.ring.Append(samples)
}

// Next returns the next analysis window if enough samples are queued, then
// advances the ring by the hop length. The returned slice is a copy safe to
// retain. Returns ok=false when fewer than windowSize samples are queued.
func (b *FrameBatcher) Next() (window []float32, ok bool) {
	if b.ring.Len() < b.windowSize {
		return nil, false
	}
	window = b.ring.CopyFirst(b.windowSize)
	b.ring.Discard(b.hopSize)
	return window, true
}

// Pending returns the number of samples queued but not yet emitted.
func (b *FrameBatcher) Pending() int {
	return b.ring.Len()
}

// Reset drops all queued samples.
func (b *FrameBatcher) Reset() {
	b.ring.Reset()
}
