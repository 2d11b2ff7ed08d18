package export

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound    = errors.New("export not found")
	ErrInvalidName = errors.New("invalid export name")
)

// Storage keeps rendered exports.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader, size int64) (int64, error)
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}

// PublicURLProvider is implemented by backends that can serve an export
// directly.
type PublicURLProvider interface {
	// GetPublicURL returns the public URL for name, or "" when not available.
	GetPublicURL(name string) string
}
