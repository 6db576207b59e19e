// Package mock provides a scripted audio source for tests.
package mock

import (
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/types"
)

// Source is a test double implementing [audio.Source]. Tests push chunks
// synchronously with [Source.Push]; every subscriber receives them.
type Source struct {
	*audio.Broadcaster

	sampleRate int
	elapsed    time.Duration
}

// NewSource returns a mock source producing chunks at the given sample rate.
func NewSource(sampleRate int) *Source {
	return &Source{Broadcaster: audio.NewBroadcaster(), sampleRate: sampleRate}
}

// Push publishes samples as a single chunk, advancing the source clock.
func (s *Source) Push(samples []float32) {
	s.Publish(types.AudioChunk{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Timestamp:  s.elapsed,
	})
	s.elapsed += audio.SamplesDuration(len(samples), s.sampleRate)
}

// PushSilence publishes n zero samples.
func (s *Source) PushSilence(n int) {
	s.Push(make([]float32, n))
}
