// Package mock provides a scripted [vad.Scorer] for tests.
package mock

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/vad"
)

// Compile-time interface assertion.
var _ vad.Scorer = (*Scorer)(nil)

// Scorer is a test double implementing vad.Scorer. It returns scores from a
// configured script (repeating the last score once exhausted) and encodes a
// call counter into the returned state so tests can verify sequential state
// threading.
type Scorer struct {
	// Err, when non-nil, is returned by every Score call.
	Err error

	mu     sync.Mutex
	script []float64
	calls  int
	states []vad.State // state value received on each call, in order
}

// NewScorer returns a Scorer that plays back the given probability sequence.
func NewScorer(script ...float64) *Scorer {
	return &Scorer{script: script}
}

// Enqueue appends further scores to the script.
func (s *Scorer) Enqueue(scores ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, scores...)
}

// Score implements vad.Scorer.
func (s *Scorer) Score(_ context.Context, _ []float32, state vad.State) (float64, vad.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return 0, nil, s.Err
	}

	s.states = append(s.states, state)

	score := 0.0
	if len(s.script) > 0 {
		idx := s.calls
		if idx >= len(s.script) {
			idx = len(s.script) - 1
		}
		score = s.script[idx]
	}
	s.calls++

	next := make(vad.State, 8)
	binary.LittleEndian.PutUint64(next, uint64(s.calls))
	return score, next, nil
}

// Calls returns how many times Score was invoked.
func (s *Scorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ReceivedStates returns the state values passed into each Score call.
func (s *Scorer) ReceivedStates() []vad.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vad.State, len(s.states))
	copy(out, s.states)
	return out
}
