package mysql

import (
	"context"
	"fmt"
	"log"

	"salesagg/internal/aggregate"
	"salesagg/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

var _ storage.Sink = (*wrappedRepo)(nil)

// init registers the "mysql" backend with the factory.
func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}

// wrappedRepo adapts *mysql.Repository to storage.Sink.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Write(ctx context.Context, dest string, rel *aggregate.Relation) error {
	n, err := w.ReplaceTable(ctx, dest, rel.Columns, rel.Rows)
	if err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	log.Printf("mysql: swapped table=%s rows=%d", dest, n)
	return nil
}

// Close closes the underlying connection pool.
func (w *wrappedRepo) Close() error {
	w.closeFn()
	return nil
}
