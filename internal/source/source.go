// Package source produces order book snapshots, quotes and order submission
// results for a session, either from a deterministic synthetic generator or
// from the live aggregator.
package source

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// Session scopes every data source call. Demo selects the synthetic
// generator; it is fixed for the lifetime of the session so demo and live
// data are never mixed.
type Session struct {
	ChainID int64
	Demo    bool
}

// Mode returns "demo" or "live".
func (s Session) Mode() string {
	if s.Demo {
		return "demo"
	}
	return "live"
}

func (s Session) String() string {
	return fmt.Sprintf("%d/%s", s.ChainID, s.Mode())
}

// Adapter is the single data source abstraction used by the poller, the
// order service and the pricing engine.
type Adapter interface {
	Session() Session
	FetchSnapshot(ctx context.Context, pair domain.TokenPair) (domain.OrderBookSnapshot, error)
	FetchQuote(ctx context.Context, sellToken, buyToken string, sellAmount *big.Int) (domain.Quote, error)
	SubmitOrder(ctx context.Context, order domain.LimitOrder) (domain.LimitOrder, error)
	CancelOrder(ctx context.Context, id string) error
	GetOrder(ctx context.Context, id string) (domain.LimitOrder, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.LimitOrder, error)
	OrderEvents(ctx context.Context, id string) ([]domain.OrderEvent, error)
}

// TokenInfo resolves symbols and per-asset decimals. *registry.Registry
// satisfies it.
type TokenInfo interface {
	ResolveSymbol(addr string) string
	Decimals(addr string) (int32, error)
}
