// Package storage declares where uploaded PDFs and profile images live.
package storage

import (
	"context"
	"io"
)

// FileStore keeps named blobs. Names are flat: no directories, no path
// separators. Open and Remove report apperror.ErrNotFound for unknown names.
type FileStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Remove(ctx context.Context, name string) error
}
