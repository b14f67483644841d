package sqlite

import (
	"context"
	"log"

	"salesagg/internal/aggregate"
	"salesagg/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

// wrappedRepo adapts *Repository to storage.Sink.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

var _ storage.Sink = (*wrappedRepo)(nil)

func (w *wrappedRepo) Write(ctx context.Context, dest string, rel *aggregate.Relation) error {
	n, err := w.ReplaceTable(ctx, dest, rel.Columns, rel.Rows)
	if err != nil {
		return err
	}
	log.Printf("sqlite: replaced table=%s rows=%d", dest, n)
	return nil
}

func (w *wrappedRepo) Close() error {
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}
