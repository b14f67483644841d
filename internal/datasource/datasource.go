// Package datasource abstracts where pipeline input bytes come from.
//
// A Source must be restartable: every Open returns a fresh stream from the
// beginning, so a failed run can be repeated without side effects.
package datasource

import (
	"context"
	"io"
)

type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
