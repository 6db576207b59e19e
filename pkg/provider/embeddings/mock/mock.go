// Package mock provides a deterministic [embeddings.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/embeddings"
)

// Compile-time interface assertion.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a test double producing deterministic embeddings derived from
// the input text length and bytes.
type Provider struct {
	// Err, when non-nil, is returned by every Embed call.
	Err error

	// Dim is the embedding dimensionality. Default 8.
	Dim int

	mu    sync.Mutex
	texts []string
}

// NewProvider returns a ready mock with 8-dimensional embeddings.
func NewProvider() *Provider {
	return &Provider{Dim: 8}
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	p.texts = append(p.texts, text)

	vec := make([]float32, p.Dim)
	for i, b := range []byte(text) {
		vec[i%p.Dim] += float32(b) / 255.0
	}
	return vec, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.Dim }

// EmbeddedTexts returns the texts passed to Embed, in order.
func (p *Provider) EmbeddedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.texts))
	copy(out, p.texts)
	return out
}
