package pipeline

import (
	"context"
	"fmt"

	"github.com/earshot-ai/earshot/pkg/provider/vad"
	"github.com/earshot-ai/earshot/pkg/types"
)

// Hysteresis defaults for the voice-activity state machine.
const (
	// DefaultPositiveThreshold flips the machine to speaking when a window's
	// score reaches it.
	DefaultPositiveThreshold = 0.65

	// DefaultNegativeThreshold counts a window toward the silence streak when
	// the score falls below it. Scores between the thresholds leave the
	// machine unchanged.
	DefaultNegativeThreshold = 0.40

	// DefaultNegativeCount is the number of consecutive sub-threshold windows
	// required to flip the machine back to silence.
	DefaultNegativeCount = 8
)

// VoiceActivity is the hysteresis state machine that debounces a per-window
// speech probability into a stable speaking / not-speaking signal with edge
// events. The scorer's recurrent hidden state is threaded sequentially
// through every call; windows must be processed in arrival order.
//
// Not safe for concurrent use.
type VoiceActivity struct {
	scorer vad.Scorer

	positiveThreshold float64
	negativeThreshold float64
	negativeCount     int

	speaking  bool
	negStreak int
	hidden    vad.State
}

// VoiceActivityOption configures a VoiceActivity machine.
type VoiceActivityOption func(*VoiceActivity)

// WithThresholds overrides the hysteresis thresholds.
func WithThresholds(positive, negative float64) VoiceActivityOption {
	return func(v *VoiceActivity) {
		v.positiveThreshold = positive
		v.negativeThreshold = negative
	}
}

// WithNegativeCount overrides the consecutive-silence window count required
// to end a speech segment.
func WithNegativeCount(n int) VoiceActivityOption {
	return func(v *VoiceActivity) { v.negativeCount = n }
}

// NewVoiceActivity constructs the machine around a scorer.
func NewVoiceActivity(scorer vad.Scorer, opts ...VoiceActivityOption) (*VoiceActivity, error) {
	if scorer == nil {
		return nil, fmt.Errorf("%w: voice-activity scorer", ErrEngineNotInitialized)
	}
	v := &VoiceActivity{
		scorer:            scorer,
		positiveThreshold: DefaultPositiveThreshold,
		negativeThreshold: DefaultNegativeThreshold,
		negativeCount:     DefaultNegativeCount,
	}
	for _, o := range opts {
		o(v)
	}
	if v.negativeThreshold > v.positiveThreshold {
		return nil, fmt.Errorf("pipeline: negative threshold %v above positive threshold %v",
			v.negativeThreshold, v.positiveThreshold)
	}
	if v.negativeCount <= 0 {
		return nil, fmt.Errorf("pipeline: negative count must be positive, got %d", v.negativeCount)
	}
	return v, nil
}

// Process scores one analysis window and applies the hysteresis rule:
//
//   - score >= positiveThreshold: speaking, silence streak reset.
//   - score < negativeThreshold: silence streak incremented; speaking ends
//     once the streak reaches negativeCount.
//   - anything between: no change.
//
// The edge flags compare against the state before this call.
func (v *VoiceActivity) Process(ctx context.Context, window []float32) (types.VADResult, error) {
	score, hidden, err := v.scorer.Score(ctx, window, v.hidden)
	if err != nil {
		return types.VADResult{}, fmt.Errorf("pipeline: score voice activity: %w", err)
	}
	v.hidden = hidden

	wasSpeaking := v.speaking
	switch {
	case score >= v.positiveThreshold:
		v.speaking = true
		v.negStreak = 0
	case score < v.negativeThreshold:
		v.negStreak++
		if v.negStreak >= v.negativeCount {
			v.speaking = false
		}
	}

	return types.VADResult{
		Probability: score,
		IsSpeaking:  v.speaking,
		JustStarted: v.speaking && !wasSpeaking,
		JustEnded:   !v.speaking && wasSpeaking,
	}, nil
}

// IsSpeaking returns the current debounced speaking state.
func (v *VoiceActivity) IsSpeaking() bool {
	return v.speaking
}

// Reset zeroes the streaks and discards the scorer's hidden state, restarting
// the recurrent model from scratch.
func (v *VoiceActivity) Reset() {
	v.speaking = false
	v.negStreak = 0
	v.hidden = nil
}
