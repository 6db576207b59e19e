// Package wake defines the contracts for the wake-word model chain: spectrogram
// extraction, speech embedding, and wake-phrase classification.
//
// Unlike the recurrent VAD scorer, all three stages are pure per-call
// functions of their input — no hidden state crosses calls. The pipeline
// extracts a spectrogram per analysis window, embeds it, accumulates a fixed
// number of embeddings, and classifies the concatenated batch.
//
// Implementations must be safe for concurrent use.
package wake

import "context"

// Features is the opaque spectrogram feature blob produced by a
// [FeatureExtractor] and consumed by an [Embedder]. Callers pass it through
// unmodified.
type Features []float32

// FeatureExtractor converts an analysis window of mono float32 PCM into a
// model-specific spectrogram feature blob.
type FeatureExtractor interface {
	Spectrogram(ctx context.Context, window []float32) (Features, error)
}

// Embedder converts a spectrogram feature blob into a fixed-length speech
// embedding. All embeddings from one Embedder share the same length.
type Embedder interface {
	Embed(ctx context.Context, features Features) ([]float32, error)
}

// Classifier scores a concatenated batch of embeddings (oldest first) for the
// wake phrase, returning a probability in [0, 1].
type Classifier interface {
	Classify(ctx context.Context, embeddings []float32) (float64, error)
}

// Chain bundles the three stages of one wake-word model. A single inference
// backend usually implements all three.
type Chain interface {
	FeatureExtractor
	Embedder
	Classifier
}
