// Package memory provides in-process stand-ins for the fact store and blob
// store, used by default and in tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// FactStore accepts every batch. It counts what it receives and, when
// Retain is set, keeps the triples for inspection.
type FactStore struct {
	Retain bool

	mu      sync.RWMutex
	batches int
	count   int
	triples []crawler.Triple
}

// NewFactStore returns a FactStore that discards triples.
func NewFactStore() *FactStore {
	return &FactStore{}
}

// PutTriples records the batch.
func (s *FactStore) PutTriples(_ context.Context, triples []crawler.Triple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	s.count += len(triples)
	if s.Retain {
		s.triples = append(s.triples, triples...)
	}
	return nil
}

// Counts returns the batches and triples received.
func (s *FactStore) Counts() (batches, triples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches, s.count
}

// Triples returns the retained triples.
func (s *FactStore) Triples() []crawler.Triple {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Triple(nil), s.triples...)
}
