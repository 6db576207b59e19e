// Package mock provides an in-memory [memory.CommandStore] for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/memory"
	"github.com/earshot-ai/earshot/pkg/types"
)

// Compile-time interface assertion.
var _ memory.CommandStore = (*CommandStore)(nil)

// CommandStore is a test double keeping records in memory.
type CommandStore struct {
	// SaveErr, RecentErr, SearchErr force the respective call to fail.
	SaveErr   error
	RecentErr error
	SearchErr error

	mu      sync.Mutex
	records []types.CommandRecord
}

// Save implements memory.CommandStore.
func (s *CommandStore) Save(_ context.Context, rec types.CommandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.records = append(s.records, rec)
	return nil
}

// Recent implements memory.CommandStore.
func (s *CommandStore) Recent(_ context.Context, since time.Time, limit int) ([]types.CommandRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	var out []types.CommandRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].Timestamp.After(since) {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// Search implements memory.CommandStore. The mock matches nothing; tests that
// need hits should stub at a higher level.
func (s *CommandStore) Search(_ context.Context, _ string, _ int) ([]memory.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	return []memory.SearchResult{}, nil
}

// Close implements memory.CommandStore.
func (s *CommandStore) Close() error { return nil }

// Saved returns all records saved so far.
func (s *CommandStore) Saved() []types.CommandRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.CommandRecord, len(s.records))
	copy(out, s.records)
	return out
}
