// Package file implements a local filesystem-backed data source.
package file

import (
	"context"
	"fmt"
	"io"
	"os"

	"salesagg/internal/datasource"
)

// Local is a filesystem data source that opens files from the local disk.
type Local struct{ path string }

// NewLocal returns a Local data source bound to path. Each Open returns an
// independent reader, so the value is safe for concurrent use.
func NewLocal(path string) *Local { return &Local{path: path} }

var _ datasource.Source = (*Local)(nil)

// Open opens the configured path for reading.
//
// A context that is already done short-circuits without touching the
// filesystem. Filesystem errors are wrapped with the path and still satisfy
// errors.Is(err, os.ErrNotExist) and friends. The kernel is told the file
// will be read sequentially where the platform supports it.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	adviseSequential(f)
	return f, nil
}
