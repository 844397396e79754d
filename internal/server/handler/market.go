package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/pricing"
	"github.com/alanyoungcy/limitdesk/internal/service"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Snapshot(ctx context.Context, sess source.Session, base, quote string) (domain.OrderBookSnapshot, error)
	Depth(ctx context.Context, sess source.Session, base, quote string, levels int) (domain.MarketDepth, error)
	Stats(ctx context.Context, sess source.Session, base, quote string) (service.MarketStats, error)
	Pairs(chainID int64, limit int, query string) (service.PairsResponse, error)
	Tokens(chainID int64) (service.TokensResponse, error)
	Quote(ctx context.Context, sess source.Session, sellToken, buyToken, sellAmount string) (service.QuoteResult, error)
	Pricing(ctx context.Context, sess source.Session, sellToken, buyToken, amount, slippage string) (pricing.Pricing, error)
}

// MarketHandler serves order book, depth, stats, pair and pricing endpoints.
type MarketHandler struct {
	markets  MarketService
	sessions Sessions
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, sessions Sessions, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		sessions: sessions,
		logger:   logHandler(logger, "market"),
	}
}

// OrderBook returns the current snapshot of a pair.
// GET /api/{chainId}/orderbook?baseToken=&quoteToken=&demo=
func (h *MarketHandler) OrderBook(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "orderbook", err)
		return
	}
	q := r.URL.Query()
	snap, err := h.markets.Snapshot(r.Context(), sess, q.Get("baseToken"), q.Get("quoteToken"))
	if err != nil {
		writeServiceError(w, r, h.logger, "orderbook", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Depth returns the aggregated depth of a pair.
// GET /api/{chainId}/depth?baseToken=&quoteToken=&depth=&demo=
func (h *MarketHandler) Depth(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "depth", err)
		return
	}
	levels, err := queryInt(r, "depth")
	if err != nil {
		writeServiceError(w, r, h.logger, "depth", err)
		return
	}
	q := r.URL.Query()
	depth, err := h.markets.Depth(r.Context(), sess, q.Get("baseToken"), q.Get("quoteToken"), levels)
	if err != nil {
		writeServiceError(w, r, h.logger, "depth", err)
		return
	}
	writeJSON(w, http.StatusOK, depth)
}

// Stats returns global order and volume figures, plus one pair when
// requested.
// GET /api/{chainId}/stats?baseToken=&quoteToken=&demo=
func (h *MarketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "stats", err)
		return
	}
	q := r.URL.Query()
	stats, err := h.markets.Stats(r.Context(), sess, q.Get("baseToken"), q.Get("quoteToken"))
	if err != nil {
		writeServiceError(w, r, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Pairs lists or searches the chain's canonical pairs.
// GET /api/{chainId}/pairs?limit=&q=
func (h *MarketHandler) Pairs(w http.ResponseWriter, r *http.Request) {
	id, err := chainID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "pairs", err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, r, h.logger, "pairs", err)
		return
	}
	res, err := h.markets.Pairs(id, limit, r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, h.logger, "pairs", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Tokens lists the chain's registered tokens and their decimals.
// GET /api/{chainId}/tokens
func (h *MarketHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	id, err := chainID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "tokens", err)
		return
	}
	res, err := h.markets.Tokens(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Quote suggests a price for a sell amount.
// GET /api/{chainId}/quote?sellToken=&buyToken=&sellAmount=&demo=
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	q := r.URL.Query()
	res, err := h.markets.Quote(r.Context(), sess, q.Get("sellToken"), q.Get("buyToken"), q.Get("sellAmount"))
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Pricing returns the pricing strategies for an order.
// GET /api/{chainId}/pricing?sellToken=&buyToken=&amount=&slippage=&demo=
func (h *MarketHandler) Pricing(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "pricing", err)
		return
	}
	q := r.URL.Query()
	res, err := h.markets.Pricing(r.Context(), sess, q.Get("sellToken"), q.Get("buyToken"), q.Get("amount"), q.Get("slippage"))
	if err != nil {
		writeServiceError(w, r, h.logger, "pricing", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
