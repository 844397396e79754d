package source

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// DemoAdapter serves a demo session from the synthetic generator. Orders are
// acknowledged locally and never leave the process; the order service keeps
// them in its demo table.
type DemoAdapter struct {
	session Session
	gen     *Generator
	latency time.Duration
	now     func() time.Time
}

// NewDemoAdapter returns an adapter for a demo session. latency, when set,
// simulates network delay on every fetch and honours cancellation.
func NewDemoAdapter(sess Session, gen *Generator, latency time.Duration) *DemoAdapter {
	return &DemoAdapter{session: sess, gen: gen, latency: latency, now: gen.now}
}

func (a *DemoAdapter) Session() Session { return a.session }

func (a *DemoAdapter) wait(ctx context.Context) error {
	if a.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(a.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchSnapshot generates the next synthetic snapshot for pair.
func (a *DemoAdapter) FetchSnapshot(ctx context.Context, pair domain.TokenPair) (domain.OrderBookSnapshot, error) {
	if err := a.wait(ctx); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("source/demo: fetch snapshot: %w", err)
	}
	return a.gen.Snapshot(a.session.ChainID, pair), nil
}

// FetchQuote prices sellAmount at the synthetic mid.
func (a *DemoAdapter) FetchQuote(ctx context.Context, sellToken, buyToken string, sellAmount *big.Int) (domain.Quote, error) {
	if err := a.wait(ctx); err != nil {
		return domain.Quote{}, fmt.Errorf("source/demo: fetch quote: %w", err)
	}
	return a.gen.Quote(sellToken, buyToken, sellAmount)
}

// SubmitOrder acknowledges the order as active.
func (a *DemoAdapter) SubmitOrder(_ context.Context, order domain.LimitOrder) (domain.LimitOrder, error) {
	out := order.Clone()
	out.Status = domain.OrderStatusActive
	if out.CreatedAt.IsZero() {
		out.CreatedAt = a.now()
	}
	out.UpdatedAt = out.CreatedAt
	return out, nil
}

// CancelOrder is a local acknowledgement.
func (a *DemoAdapter) CancelOrder(context.Context, string) error { return nil }

// GetOrder always misses: demo orders only exist in the demo table.
func (a *DemoAdapter) GetOrder(_ context.Context, id string) (domain.LimitOrder, error) {
	return domain.LimitOrder{}, fmt.Errorf("source/demo: order %s: %w", id, domain.ErrNotFound)
}

// ListOrders has nothing upstream to list in a demo session.
func (a *DemoAdapter) ListOrders(context.Context, domain.OrderFilter) ([]domain.LimitOrder, error) {
	return nil, nil
}

// OrderEvents has nothing upstream to report in a demo session.
func (a *DemoAdapter) OrderEvents(context.Context, string) ([]domain.OrderEvent, error) {
	return nil, nil
}

var _ Adapter = (*DemoAdapter)(nil)
