// Package memory is an in-process sink. It backs dry runs and tests; the
// contents vanish with the process.
package memory

import (
	"context"
	"sync"

	"salesagg/internal/aggregate"
	"salesagg/internal/storage"
)

// Sink keeps the last relation written to each destination.
type Sink struct {
	mu   sync.RWMutex
	rels map[string]*aggregate.Relation
}

// New returns an empty Sink.
func New() *Sink { return &Sink{rels: map[string]*aggregate.Relation{}} }

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(), nil
	})
}

// Write swaps the stored relation for dest under the lock.
func (s *Sink) Write(ctx context.Context, dest string, rel *aggregate.Relation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.rels[dest] = rel
	s.mu.Unlock()
	return nil
}

// Get returns the relation stored under dest.
func (s *Sink) Get(dest string) (*aggregate.Relation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rels[dest]
	return r, ok
}

func (s *Sink) Close() error { return nil }
