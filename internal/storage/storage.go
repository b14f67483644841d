// Package storage defines the output sink contract for finished report
// relations and a small factory registry so the wiring layer can select a
// backend by kind without importing drivers directly.
//
// Every backend replaces the whole destination on Write and makes the new
// contents visible atomically: readers see either the previous relation or
// the new one, never a mix. A failed Write leaves the previous contents in
// place.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"salesagg/internal/aggregate"
	"salesagg/internal/config"
)

// Sink persists finished relations.
type Sink interface {
	// Write replaces the destination dest with rel.
	Write(ctx context.Context, dest string, rel *aggregate.Relation) error
	Close() error
}

// Config selects and configures a sink backend.
type Config struct {
	Kind    string
	DSN     string
	Prefix  string
	Options config.Options
	// RunID tags writes where the backend can carry metadata.
	RunID string
}

// Factory constructs a Sink for a given Config.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It is called from backend
// init functions; registering the same kind twice panics.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("storage: Register called twice for kind " + kind)
	}
	factories[kind] = f
}

// New constructs the sink registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown sink kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Kind, err)
	}
	return s, nil
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Destination joins the configured prefix and a report name.
func Destination(prefix, name string) string { return prefix + name }
