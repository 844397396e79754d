// Package lru provides the bounded read-through order cache used in live
// sessions, where the aggregator owns the authoritative record.
package lru

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

const (
	DefaultSize      = 4096
	DefaultFreshness = 5 * time.Second
)

// LoadFunc fetches an order from the source of truth.
type LoadFunc func(ctx context.Context, id string) (domain.LimitOrder, error)

type entry struct {
	order     domain.LimitOrder
	fetchedAt time.Time
}

// OrderCache serves orders from memory while they are fresh and reloads
// them through load otherwise. Terminal orders never change upstream, so
// they stay fresh until evicted.
type OrderCache struct {
	entries   *lru.Cache[string, entry]
	load      LoadFunc
	freshness time.Duration
	now       func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an OrderCache holding at most size orders.
func New(size int, freshness time.Duration, load LoadFunc) (*OrderCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("lru: create order cache: %w", err)
	}
	return &OrderCache{entries: c, load: load, freshness: freshness, now: time.Now}, nil
}

// Get returns the order with id, loading it on a miss or when stale.
func (c *OrderCache) Get(ctx context.Context, id string) (domain.LimitOrder, error) {
	if e, ok := c.entries.Get(id); ok && c.fresh(e) {
		c.hits.Add(1)
		return e.order.Clone(), nil
	}
	c.misses.Add(1)
	o, err := c.load(ctx, id)
	if err != nil {
		return domain.LimitOrder{}, err
	}
	c.Put(o)
	return o.Clone(), nil
}

// Put records o as freshly fetched.
func (c *OrderCache) Put(o domain.LimitOrder) {
	c.entries.Add(o.ID, entry{order: o.Clone(), fetchedAt: c.now()})
}

// Invalidate drops id so the next Get reloads it.
func (c *OrderCache) Invalidate(id string) {
	c.entries.Remove(id)
}

// Peek returns the cached copy of id regardless of freshness.
func (c *OrderCache) Peek(id string) (domain.LimitOrder, bool) {
	e, ok := c.entries.Peek(id)
	if !ok {
		return domain.LimitOrder{}, false
	}
	return e.order.Clone(), true
}

// Active returns the cached orders still marked active.
func (c *OrderCache) Active() []domain.LimitOrder {
	var out []domain.LimitOrder
	for _, id := range c.entries.Keys() {
		if e, ok := c.entries.Peek(id); ok && e.order.Status == domain.OrderStatusActive {
			out = append(out, e.order.Clone())
		}
	}
	return out
}

// Len returns the number of cached orders.
func (c *OrderCache) Len() int { return c.entries.Len() }

// Stats returns hit and miss counters.
func (c *OrderCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *OrderCache) fresh(e entry) bool {
	if e.order.Status.Terminal() {
		return true
	}
	return c.now().Sub(e.fetchedAt) < c.freshness
}
