// Package blob stores uploaded client documents and generated CMA workbooks.
package blob

import (
	"context"
	"io"
	"time"
)

// Store is the object storage interface. Keys are firm-scoped paths like
// {firm_id}/{project_id}/uploads/{file_id}_{name}.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
