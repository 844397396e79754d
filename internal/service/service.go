// Package service holds the order lifecycle manager and the market views
// served over HTTP. Both are session scoped: every call names the chain and
// whether it runs against the synthetic generator or the live aggregator.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

// Adapters resolves the data source bound to a session. *source.Router
// satisfies it.
type Adapters interface {
	For(sess source.Session) (source.Adapter, error)
}

// TokenLookup returns symbol and decimals information for a chain.
type TokenLookup func(chainID int64) (source.TokenInfo, error)

// OrderSigner signs live orders for one maker on one chain. *crypto.Signer
// satisfies it.
type OrderSigner interface {
	SignOrder(o domain.LimitOrder) (string, error)
	Address() common.Address
	ChainID() int64
}

// publishOrder announces an order transition on the signal bus. Failures are
// logged and never fail the operation that caused the transition.
func publishOrder(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, event domain.OrderEventType, sess source.Session, o domain.LimitOrder) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(domain.OrderUpdate{Event: event, Demo: sess.Demo, Order: o})
	if err == nil {
		err = bus.Publish(ctx, domain.ChannelOrder, payload)
	}
	if err != nil {
		logger.WarnContext(ctx, "order_service: publish order event failed",
			slog.String("order_id", o.ID),
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
}
