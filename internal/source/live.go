package source

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// Aggregator is the REST surface of the external aggregator that the live
// adapter drives. *aggregator.Client satisfies it.
type Aggregator interface {
	OrderBook(ctx context.Context, chainID int64, pair domain.TokenPair) (domain.OrderBookSnapshot, error)
	Quote(ctx context.Context, chainID int64, sellToken, buyToken string, sellAmount *big.Int) (domain.Quote, error)
	SubmitOrder(ctx context.Context, order domain.LimitOrder) (domain.LimitOrder, error)
	CancelOrder(ctx context.Context, chainID int64, id string) error
	GetOrder(ctx context.Context, chainID int64, id string) (domain.LimitOrder, error)
	ListOrders(ctx context.Context, chainID int64, filter domain.OrderFilter) ([]domain.LimitOrder, error)
	OrderEvents(ctx context.Context, chainID int64, id string) ([]domain.OrderEvent, error)
}

// LiveAdapter serves a live session from the aggregator under a retry
// policy. Submission is retried too: the order id is a hash of the order
// fields, so a replayed submission is deduplicated upstream.
type LiveAdapter struct {
	session Session
	client  Aggregator
	policy  Policy
	now     func() time.Time
	logger  *slog.Logger
}

// NewLiveAdapter returns an adapter for a live session.
func NewLiveAdapter(sess Session, client Aggregator, policy Policy, logger *slog.Logger) *LiveAdapter {
	return &LiveAdapter{
		session: sess,
		client:  client,
		policy:  policy,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "source_live"), slog.Int64("chain_id", sess.ChainID)),
	}
}

func (a *LiveAdapter) Session() Session { return a.session }

// FetchSnapshot fetches the upstream book. CapturedAt is stamped locally and
// the result is normalised so totals and ordering never depend on upstream.
func (a *LiveAdapter) FetchSnapshot(ctx context.Context, pair domain.TokenPair) (domain.OrderBookSnapshot, error) {
	snap, err := Do(ctx, a.policy, "fetch snapshot", func(ctx context.Context) (domain.OrderBookSnapshot, error) {
		return a.client.OrderBook(ctx, a.session.ChainID, pair)
	})
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	snap.ChainID = a.session.ChainID
	snap.BaseToken, snap.QuoteToken = pair.BaseToken, pair.QuoteToken
	if snap.Pair == "" {
		snap.Pair = pair.Symbol
	}
	snap.CapturedAt = a.now()
	return snap.Normalized(), nil
}

func (a *LiveAdapter) FetchQuote(ctx context.Context, sellToken, buyToken string, sellAmount *big.Int) (domain.Quote, error) {
	return Do(ctx, a.policy, "fetch quote", func(ctx context.Context) (domain.Quote, error) {
		return a.client.Quote(ctx, a.session.ChainID, sellToken, buyToken, sellAmount)
	})
}

func (a *LiveAdapter) SubmitOrder(ctx context.Context, order domain.LimitOrder) (domain.LimitOrder, error) {
	out, err := Do(ctx, a.policy, "submit order", func(ctx context.Context) (domain.LimitOrder, error) {
		return a.client.SubmitOrder(ctx, order)
	})
	if err != nil {
		return domain.LimitOrder{}, err
	}
	a.logger.Info("source_live: order submitted", slog.String("order_id", out.ID))
	return out, nil
}

func (a *LiveAdapter) CancelOrder(ctx context.Context, id string) error {
	_, err := Do(ctx, a.policy, "cancel order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.client.CancelOrder(ctx, a.session.ChainID, id)
	})
	return err
}

func (a *LiveAdapter) GetOrder(ctx context.Context, id string) (domain.LimitOrder, error) {
	return Do(ctx, a.policy, "get order", func(ctx context.Context) (domain.LimitOrder, error) {
		return a.client.GetOrder(ctx, a.session.ChainID, id)
	})
}

func (a *LiveAdapter) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.LimitOrder, error) {
	return Do(ctx, a.policy, "list orders", func(ctx context.Context) ([]domain.LimitOrder, error) {
		return a.client.ListOrders(ctx, a.session.ChainID, filter)
	})
}

func (a *LiveAdapter) OrderEvents(ctx context.Context, id string) ([]domain.OrderEvent, error) {
	return Do(ctx, a.policy, "order events", func(ctx context.Context) ([]domain.OrderEvent, error) {
		return a.client.OrderEvents(ctx, a.session.ChainID, id)
	})
}

var _ Adapter = (*LiveAdapter)(nil)
