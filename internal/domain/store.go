package domain

import (
	"context"
	"time"
)

// OrderUpdateFunc mutates an order in place during a read-modify-write. It
// returns false when nothing changed so the store can skip the write.
type OrderUpdateFunc func(o *LimitOrder) (changed bool, err error)

// OrderStore persists limit orders keyed by id. Update is atomic: no reader
// observes a partially applied fn.
type OrderStore interface {
	Create(ctx context.Context, order LimitOrder) error
	Get(ctx context.Context, id string) (LimitOrder, error)
	Update(ctx context.Context, id string, fn OrderUpdateFunc) (LimitOrder, error)
	List(ctx context.Context, filter OrderFilter) ([]LimitOrder, error)
	Delete(ctx context.Context, id string) error
}

// OrderMirror keeps a durable copy of orders whose source of truth lives
// upstream.
type OrderMirror interface {
	Upsert(ctx context.Context, order LimitOrder) error
	List(ctx context.Context, filter OrderFilter) ([]LimitOrder, error)
}

// OrderEventStore persists the append-only order event log. Append ignores
// an event whose ID was already recorded. DeleteByOrder drops the history of
// collected orders and reports how many events went.
type OrderEventStore interface {
	Append(ctx context.Context, ev OrderEvent) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]OrderEvent, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]OrderEvent, error)
	DeleteByOrder(ctx context.Context, orderIDs ...string) (int, error)
}
