// Package pebblekv stores report relations in a Pebble key-value store. Each
// relation is a columnar JSON blob under "relation/<dest>" with a metadata
// record under "relation/<dest>/meta"; both keys land in one synced batch.
package pebblekv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"salesagg/internal/aggregate"
	"salesagg/internal/storage"

	"github.com/cockroachdb/pebble"
)

const keyPrefix = "relation/"

// Meta describes the last write of a relation.
type Meta struct {
	RunID     string `json:"run_id"`
	Rows      int    `json:"rows"`
	Checksum  string `json:"checksum"`
	WrittenAt int64  `json:"written_at"`
}

// Store is a Pebble-backed sink.
type Store struct {
	db    *pebble.DB
	runID string
	now   func() time.Time
}

// Open opens (or creates) the Pebble directory at dir.
func Open(dir, runID string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("pebble: directory must not be empty")
	}
	opts := &pebble.Options{
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
	}
	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &Store{db: db, runID: runID, now: time.Now}, nil
}

func init() {
	storage.Register("pebble", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return Open(cfg.DSN, cfg.RunID)
	})
}

func dataKey(dest string) []byte { return []byte(keyPrefix + dest) }
func metaKey(dest string) []byte { return []byte(keyPrefix + dest + "/meta") }

// Write replaces both keys for dest in a single batch.
func (s *Store) Write(ctx context.Context, dest string, rel *aggregate.Relation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blob, err := rel.MarshalColumnar()
	if err != nil {
		return err
	}
	meta, err := json.Marshal(Meta{
		RunID:     s.runID,
		Rows:      len(rel.Rows),
		Checksum:  rel.Checksum(),
		WrittenAt: s.now().UTC().Unix(),
	})
	if err != nil {
		return fmt.Errorf("pebble: encode meta: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(dataKey(dest), blob, nil); err != nil {
		return fmt.Errorf("pebble: set %s: %w", dest, err)
	}
	if err := b.Set(metaKey(dest), meta, nil); err != nil {
		return fmt.Errorf("pebble: set %s meta: %w", dest, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble: commit %s: %w", dest, err)
	}
	log.Printf("pebble: stored key=%s%s rows=%d bytes=%d", keyPrefix, dest, len(rel.Rows), len(blob))
	return nil
}

// Get returns the stored columnar document and its metadata.
func (s *Store) Get(dest string) ([]byte, Meta, error) {
	blob, err := s.get(dataKey(dest))
	if err != nil {
		return nil, Meta{}, err
	}
	raw, err := s.get(metaKey(dest))
	if err != nil {
		return nil, Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, Meta{}, fmt.Errorf("pebble: decode meta: %w", err)
	}
	return blob, m, nil
}

func (s *Store) get(k []byte) ([]byte, error) {
	v, closer, err := s.db.Get(k)
	if err != nil {
		return nil, fmt.Errorf("pebble: get %s: %w", k, err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (s *Store) Close() error { return s.db.Close() }
