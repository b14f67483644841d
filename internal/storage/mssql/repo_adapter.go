package mssql

import (
	"context"
	"fmt"
	"log"

	"salesagg/internal/aggregate"
	"salesagg/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

var _ storage.Sink = (*wrappedRepo)(nil)

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}

// wrappedRepo adapts *mssql.Repository to storage.Sink.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Write(ctx context.Context, dest string, rel *aggregate.Relation) error {
	n, err := w.ReplaceTable(ctx, dest, rel.Columns, rel.Rows)
	if err != nil {
		return fmt.Errorf("mssql: %s: %w", dest, err)
	}
	log.Printf("mssql: replaced table=%s rows=%d", dest, n)
	return nil
}

func (w *wrappedRepo) Close() error {
	w.closeFn()
	return nil
}
