package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// Archiver implements domain.OrderArchiver by writing a batch of orders as
// one JSON-lines object. The caller deletes the orders only after the
// upload succeeded.
type Archiver struct {
	writer domain.BlobWriter
	now    func() time.Time
}

// NewArchiver creates an Archiver writing through w.
func NewArchiver(w domain.BlobWriter) *Archiver {
	return &Archiver{writer: w, now: time.Now}
}

// ArchiveOrders uploads orders and returns the object key. An empty batch
// uploads nothing and returns "".
func (a *Archiver) ArchiveOrders(ctx context.Context, orders []domain.LimitOrder) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}
	buf, err := marshalJSONL(orders)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}
	key := archivePath("orders", a.now().UTC())
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive orders upload: %w", err)
	}
	return key, nil
}

// archivePath partitions archives by day; the random suffix keeps
// concurrent batches from overwriting each other.
//
//	archive/orders/2026-01-02/150405-<uuid>.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s-%s.jsonl", kind, at.Format("2006-01-02"), at.Format("150405"), uuid.NewString())
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.OrderArchiver = (*Archiver)(nil)
