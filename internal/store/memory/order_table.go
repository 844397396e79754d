// Package memory holds the process-local demo order table and event log.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// OrderTable is the demo order store: an owned table keyed by order id.
// Every mutation is a read-modify-write under one lock, and readers only
// ever receive deep copies, so a partially applied update is never visible.
type OrderTable struct {
	mu   sync.RWMutex
	rows map[string]domain.LimitOrder
}

// NewOrderTable returns an empty table.
func NewOrderTable() *OrderTable {
	return &OrderTable{rows: make(map[string]domain.LimitOrder)}
}

// Create inserts order. Inserting an existing id is rejected.
func (t *OrderTable) Create(_ context.Context, order domain.LimitOrder) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[order.ID]; ok {
		return domain.Invalid("id", fmt.Sprintf("order %s already exists", order.ID))
	}
	t.rows[order.ID] = order.Clone()
	return nil
}

// Get returns a copy of the order.
func (t *OrderTable) Get(_ context.Context, id string) (domain.LimitOrder, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.rows[id]
	if !ok {
		return domain.LimitOrder{}, fmt.Errorf("memory: order %s: %w", id, domain.ErrNotFound)
	}
	return o.Clone(), nil
}

// Update applies fn to a working copy and stores it only if fn reports a
// change and returns no error. It returns the stored row.
func (t *OrderTable) Update(_ context.Context, id string, fn domain.OrderUpdateFunc) (domain.LimitOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.rows[id]
	if !ok {
		return domain.LimitOrder{}, fmt.Errorf("memory: order %s: %w", id, domain.ErrNotFound)
	}
	work := cur.Clone()
	changed, err := fn(&work)
	if err != nil {
		return cur.Clone(), err
	}
	if !changed {
		return cur.Clone(), nil
	}
	work.ID = id
	t.rows[id] = work
	return work.Clone(), nil
}

// List returns orders matching f, newest first.
func (t *OrderTable) List(_ context.Context, f domain.OrderFilter) ([]domain.LimitOrder, error) {
	t.mu.RLock()
	out := make([]domain.LimitOrder, 0, len(t.rows))
	for _, o := range t.rows {
		if Matches(o, f) {
			out = append(out, o.Clone())
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return Page(out, f.Offset, f.Limit), nil
}

// Delete removes id. Deleting a missing id is not an error.
func (t *OrderTable) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	delete(t.rows, id)
	t.mu.Unlock()
	return nil
}

// Len returns the number of rows.
func (t *OrderTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Matches reports whether o satisfies f. Status is compared against the
// stored status.
func Matches(o domain.LimitOrder, f domain.OrderFilter) bool {
	if f.ChainID != 0 && o.ChainID != f.ChainID {
		return false
	}
	if f.Maker != "" && !strings.EqualFold(o.Maker, f.Maker) {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Pair != "" && domain.PairKey(o.MakerAsset, o.TakerAsset) != f.Pair {
		return false
	}
	return true
}

// Page applies offset and limit; a non-positive limit keeps everything.
func Page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ domain.OrderStore = (*OrderTable)(nil)
