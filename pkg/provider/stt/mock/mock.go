// Package mock provides a scripted [stt.Transcriber] for tests.
package mock

import (
	"context"
	"sync"
)

// Transcriber is a test double. It returns transcripts from a script in order,
// repeating the last entry once exhausted, and records the audio it was given.
type Transcriber struct {
	// Err, when non-nil, is returned by every Transcribe call.
	Err error

	mu      sync.Mutex
	script  []string
	calls   int
	lengths []int // sample counts of received utterances, in order
}

// NewTranscriber returns a Transcriber that plays back the given transcripts.
func NewTranscriber(script ...string) *Transcriber {
	return &Transcriber{script: script}
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(_ context.Context, samples []float32, _ string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lengths = append(t.lengths, len(samples))
	t.calls++

	if t.Err != nil {
		return "", t.Err
	}

	text := ""
	if len(t.script) > 0 {
		idx := t.calls - 1
		if idx >= len(t.script) {
			idx = len(t.script) - 1
		}
		text = t.script[idx]
	}
	return text, nil
}

// Calls returns how many times Transcribe was invoked.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// ReceivedLengths returns the sample count of each received utterance.
func (t *Transcriber) ReceivedLengths() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(t.lengths))
	copy(out, t.lengths)
	return out
}
