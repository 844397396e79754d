package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// OrderArchiver moves garbage-collected orders into cold storage.
type OrderArchiver interface {
	ArchiveOrders(ctx context.Context, orders []LimitOrder) (string, error)
}
