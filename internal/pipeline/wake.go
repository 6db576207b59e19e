package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

// Wake-word detection defaults.
const (
	// DefaultEmbeddingWindow is the number of per-window embeddings batched
	// for one classification.
	DefaultEmbeddingWindow = 16

	// DefaultWakeThreshold is the minimum classification probability for a
	// detection.
	DefaultWakeThreshold = 0.5

	// DefaultCooldown is the minimum interval between accepted detections.
	DefaultCooldown = 2 * time.Second
)

// WakeDetector accumulates a fixed-length FIFO of speech embeddings and
// evaluates the wake-phrase probability once the window is full. The window
// only accumulates during contiguous speech: the orchestrator calls Clear on
// every speech-end edge, so embeddings from disjoint segments are never
// batched together.
//
// Not safe for concurrent use.
type WakeDetector struct {
	chain wake.Chain

	capacity  int
	threshold float64
	cooldown  time.Duration
	now       func() time.Time

	embeddings    [][]float32
	lastDetection time.Time
}

// WakeDetectorOption configures a WakeDetector.
type WakeDetectorOption func(*WakeDetector)

// WithEmbeddingWindow overrides the embedding window capacity.
func WithEmbeddingWindow(n int) WakeDetectorOption {
	return func(d *WakeDetector) { d.capacity = n }
}

// WithWakeThreshold overrides the detection probability threshold.
func WithWakeThreshold(p float64) WakeDetectorOption {
	return func(d *WakeDetector) { d.threshold = p }
}

// WithCooldown overrides the detection debounce interval.
func WithCooldown(dur time.Duration) WakeDetectorOption {
	return func(d *WakeDetector) { d.cooldown = dur }
}

// withClock injects a deterministic clock for tests.
func withClock(now func() time.Time) WakeDetectorOption {
	return func(d *WakeDetector) { d.now = now }
}

// NewWakeDetector constructs a detector around a model chain.
func NewWakeDetector(chain wake.Chain, opts ...WakeDetectorOption) (*WakeDetector, error) {
	if chain == nil {
		return nil, fmt.Errorf("%w: wake-word chain", ErrEngineNotInitialized)
	}
	d := &WakeDetector{
		chain:     chain,
		capacity:  DefaultEmbeddingWindow,
		threshold: DefaultWakeThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.capacity <= 0 {
		return nil, fmt.Errorf("pipeline: embedding window must be positive, got %d", d.capacity)
	}
	return d, nil
}

// Process handles one speaking analysis window: extract a spectrogram, embed
// it, push the embedding into the FIFO window, and classify the concatenated
// batch once the window is full. detected is true when the probability
// reaches the threshold and the cooldown has elapsed; on detection the
// cooldown timestamp is stamped.
//
// Only call Process for windows where voice activity reports speaking.
func (d *WakeDetector) Process(ctx context.Context, window []float32) (detected bool, probability float64, err error) {
	features, err := d.chain.Spectrogram(ctx, window)
	if err != nil {
		return false, 0, fmt.Errorf("pipeline: extract spectrogram: %w", err)
	}
	embedding, err := d.chain.Embed(ctx, features)
	if err != nil {
		return false, 0, fmt.Errorf("pipeline: embed speech: %w", err)
	}

	d.embeddings = append(d.embeddings, embedding)
	if len(d.embeddings) > d.capacity {
		d.embeddings = d.embeddings[1:]
	}
	if len(d.embeddings) < d.capacity {
		return false, 0, nil
	}

	// Concatenate oldest-first into one classification batch.
	var total int
	for _, e := range d.embeddings {
		total += len(e)
	}
	batch := make([]float32, 0, total)
	for _, e := range d.embeddings {
		batch = append(batch, e...)
	}

	probability, err = d.chain.Classify(ctx, batch)
	if err != nil {
		return false, 0, fmt.Errorf("pipeline: classify wake word: %w", err)
	}

	if probability < d.threshold {
		return false, probability, nil
	}
	now := d.now()
	if !d.lastDetection.IsZero() && now.Sub(d.lastDetection) < d.cooldown {
		return false, probability, nil
	}
	d.lastDetection = now
	return true, probability, nil
}

// Pending returns the number of embeddings currently accumulated.
func (d *WakeDetector) Pending() int {
	return len(d.embeddings)
}

// Clear empties the embedding window. Called on every speech-end edge so a
// partially filled window from one segment never leaks into the next.
func (d *WakeDetector) Clear() {
	d.embeddings = d.embeddings[:0]
}
