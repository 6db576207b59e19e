// Package memory defines the command-history store contract.
//
// Every completed command cycle (transcript, dispatched function, spoken
// response) is persisted so that tools and operators can recall past commands
// — both by recency and by semantic similarity ("what did I ask about the
// weather?"). Persistence is strictly best-effort from the pipeline's
// perspective: a failing store never blocks or fails a command cycle.
package memory

import (
	"context"
	"time"

	"github.com/earshot-ai/earshot/pkg/types"
)

// SearchResult is one semantic search hit.
type SearchResult struct {
	Record types.CommandRecord

	// Distance is the cosine distance to the query (smaller = more similar).
	Distance float64
}

// CommandStore persists and recalls completed command cycles.
//
// Implementations must be safe for concurrent use.
type CommandStore interface {
	// Save persists one completed command record.
	Save(ctx context.Context, rec types.CommandRecord) error

	// Recent returns up to limit records newer than since, most recent first.
	Recent(ctx context.Context, since time.Time, limit int) ([]types.CommandRecord, error)

	// Search returns the topK records semantically closest to query,
	// most similar first.
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)

	// Close releases any resources held by the store.
	Close() error
}
