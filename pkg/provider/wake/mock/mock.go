// Package mock provides a scripted [wake.Chain] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

// Compile-time interface assertion.
var _ wake.Chain = (*Chain)(nil)

// Chain is a test double implementing wake.Chain. Spectrogram and Embed pass
// data through deterministically; Classify plays back a scripted probability
// sequence (repeating the last value once exhausted).
type Chain struct {
	// EmbeddingDim is the length of embeddings returned by Embed. Default 96.
	EmbeddingDim int

	// SpectrogramErr, EmbedErr, ClassifyErr force the respective stage to fail.
	SpectrogramErr error
	EmbedErr       error
	ClassifyErr    error

	mu            sync.Mutex
	script        []float64
	classifyCalls int
	classified    [][]float32 // embeddings batch passed to each Classify call
}

// NewChain returns a Chain whose Classify plays back the given probabilities.
func NewChain(script ...float64) *Chain {
	return &Chain{EmbeddingDim: 96, script: script}
}

// Enqueue appends further classification scores to the script.
func (c *Chain) Enqueue(scores ...float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, scores...)
}

// Spectrogram implements wake.FeatureExtractor by returning the window itself.
func (c *Chain) Spectrogram(_ context.Context, window []float32) (wake.Features, error) {
	if c.SpectrogramErr != nil {
		return nil, c.SpectrogramErr
	}
	return wake.Features(window), nil
}

// Embed implements wake.Embedder with a deterministic fixed-length embedding
// derived from the feature sum, so tests can tell windows apart.
func (c *Chain) Embed(_ context.Context, features wake.Features) ([]float32, error) {
	if c.EmbedErr != nil {
		return nil, c.EmbedErr
	}
	var sum float32
	for _, f := range features {
		sum += f
	}
	emb := make([]float32, c.EmbeddingDim)
	for i := range emb {
		emb[i] = sum
	}
	return emb, nil
}

// Classify implements wake.Classifier from the script.
func (c *Chain) Classify(_ context.Context, embeddings []float32) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ClassifyErr != nil {
		return 0, c.ClassifyErr
	}

	batch := make([]float32, len(embeddings))
	copy(batch, embeddings)
	c.classified = append(c.classified, batch)

	score := 0.0
	if len(c.script) > 0 {
		idx := c.classifyCalls
		if idx >= len(c.script) {
			idx = len(c.script) - 1
		}
		score = c.script[idx]
	}
	c.classifyCalls++
	return score, nil
}

// ClassifyCalls returns how many times Classify was invoked.
func (c *Chain) ClassifyCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifyCalls
}

// ClassifiedBatches returns the embedding batches passed to Classify, in order.
func (c *Chain) ClassifiedBatches() [][]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]float32, len(c.classified))
	copy(out, c.classified)
	return out
}
