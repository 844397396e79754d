package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/pricing"
	"github.com/alanyoungcy/limitdesk/internal/registry"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

const (
	DefaultDepthLevels = 20
	MaxDepthLevels     = 200
	DefaultPairsLimit  = 50
	MaxPairsLimit      = 500
)

// PairCatalog returns the pair registry of a chain. *registry.Catalog
// satisfies it.
type PairCatalog interface {
	For(chainID int64) (*registry.Registry, error)
}

// CatalogTokens adapts a PairCatalog to a TokenLookup.
func CatalogTokens(c PairCatalog) TokenLookup {
	return func(chainID int64) (source.TokenInfo, error) {
		r, err := c.For(chainID)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// MarketConfig tunes the market views.
type MarketConfig struct {
	// CacheMaxAge is how old a cached live snapshot may be and still be
	// served without asking the aggregator. Zero always fetches.
	CacheMaxAge time.Duration
	// StatsPairs bounds how many canonical pairs feed the global stats.
	StatsPairs int
}

// MarketService assembles order book, depth, stats, pair and pricing views
// for a session.
type MarketService struct {
	adapters Adapters
	catalog  PairCatalog
	orders   *OrderService
	cache    domain.SnapshotCache
	cfg      MarketConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	adapters Adapters,
	catalog PairCatalog,
	orders *OrderService,
	cfg MarketConfig,
	logger *slog.Logger,
) *MarketService {
	if cfg.StatsPairs <= 0 {
		cfg.StatsPairs = 5
	}
	return &MarketService{
		adapters: adapters,
		catalog:  catalog,
		orders:   orders,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "market_service")),
		now:      time.Now,
	}
}

// WithCache shares live snapshots through c. Demo snapshots are never
// cached.
func (s *MarketService) WithCache(c domain.SnapshotCache) *MarketService {
	s.cache = c
	return s
}

func (s *MarketService) pair(chainID int64, base, quote string) (*registry.Registry, domain.TokenPair, error) {
	reg, err := s.catalog.For(chainID)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}
	p, err := reg.Pair(base, quote)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}
	return reg, p, nil
}

// Snapshot returns the current book of base/quote for sess.
func (s *MarketService) Snapshot(ctx context.Context, sess source.Session, base, quote string) (domain.OrderBookSnapshot, error) {
	_, p, err := s.pair(sess.ChainID, base, quote)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	return s.snapshot(ctx, sess, p)
}

// snapshot fetches p for sess. Live sessions read through the shared
// cache: a fresh cached book is served directly, every fetched book is
// written back, and a stale one is served when the aggregator is
// unreachable.
func (s *MarketService) snapshot(ctx context.Context, sess source.Session, p domain.TokenPair) (domain.OrderBookSnapshot, error) {
	adapter, err := s.adapters.For(sess)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	useCache := !sess.Demo && s.cache != nil

	if useCache && s.cfg.CacheMaxAge > 0 {
		if snap, ok := s.cached(ctx, sess, p); ok && s.now().Sub(snap.CapturedAt) < s.cfg.CacheMaxAge {
			return snap, nil
		}
	}

	snap, err := adapter.FetchSnapshot(ctx, p)
	if err != nil {
		if useCache && errors.Is(err, domain.ErrTransientUpstream) {
			if stale, ok := s.cached(ctx, sess, p); ok {
				s.logger.WarnContext(ctx, "market_service: serving cached snapshot, upstream unreachable",
					slog.String("pair", p.Symbol),
					slog.Time("captured_at", stale.CapturedAt),
					slog.String("error", err.Error()),
				)
				return stale, nil
			}
		}
		return domain.OrderBookSnapshot{}, fmt.Errorf("market_service: snapshot %s: %w", p.Symbol, err)
	}

	if useCache {
		if err := s.cache.SetSnapshot(ctx, sess.ChainID, snap); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache snapshot failed",
				slog.String("pair", p.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// cached returns the cached book for p if it has p's orientation.
func (s *MarketService) cached(ctx context.Context, sess source.Session, p domain.TokenPair) (domain.OrderBookSnapshot, bool) {
	snap, err := s.cache.GetSnapshot(ctx, sess.ChainID, p.Key())
	if err != nil || !domain.SameAddress(snap.BaseToken, p.BaseToken) {
		return domain.OrderBookSnapshot{}, false
	}
	return snap, true
}

// Depth aggregates the first levels price levels of each side of the book.
// Zero levels uses DefaultDepthLevels.
func (s *MarketService) Depth(ctx context.Context, sess source.Session, base, quote string, levels int) (domain.MarketDepth, error) {
	if levels == 0 {
		levels = DefaultDepthLevels
	}
	if levels < 0 || levels > MaxDepthLevels {
		return domain.MarketDepth{}, domain.Invalid("depth", fmt.Sprintf("must be between 1 and %d", MaxDepthLevels))
	}
	snap, err := s.Snapshot(ctx, sess, base, quote)
	if err != nil {
		return domain.MarketDepth{}, err
	}
	return pricing.MarketDepth(snap, levels), nil
}

// TopPair is one row of the global stats leaderboard.
type TopPair struct {
	Pair   string          `json:"pair"`
	Volume decimal.Decimal `json:"volume"`
	Orders int             `json:"orders"`
}

// GlobalStats summarises the session's orders and its busiest pairs.
type GlobalStats struct {
	TotalOrders    int             `json:"totalOrders"`
	ActiveOrders   int             `json:"activeOrders"`
	TotalVolume24h decimal.Decimal `json:"totalVolume24h"`
	OrderFills24h  int             `json:"orderFills24h"`
	TopPairs       []TopPair       `json:"topPairs"`
}

// PairStats describes one market.
type PairStats struct {
	Pair         string               `json:"pair"`
	BaseToken    string               `json:"baseToken"`
	QuoteToken   string               `json:"quoteToken"`
	Stats        domain.SnapshotStats `json:"stats"`
	Orders       int                  `json:"orders"`
	ActiveOrders int                  `json:"activeOrders"`
	Fills24h     int                  `json:"fills24h"`
}

// MarketStats is the response of Stats. Pair is set only when a pair was
// requested.
type MarketStats struct {
	Global GlobalStats `json:"global"`
	Pair   *PairStats  `json:"pair,omitempty"`
}

// Stats returns global order and volume figures for sess, plus the stats of
// base/quote when both are given.
func (s *MarketService) Stats(ctx context.Context, sess source.Session, base, quote string) (MarketStats, error) {
	if (base == "") != (quote == "") {
		return MarketStats{}, domain.Invalid("quoteToken", "baseToken and quoteToken must be given together")
	}
	reg, err := s.catalog.For(sess.ChainID)
	if err != nil {
		return MarketStats{}, err
	}
	orderStats, err := s.orders.Stats(ctx, sess)
	if err != nil {
		return MarketStats{}, fmt.Errorf("market_service: stats: %w", err)
	}

	pairs := reg.CanonicalPairs(s.cfg.StatsPairs)
	top := make([]TopPair, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range pairs {
		top[i] = TopPair{Pair: p.Symbol, Volume: decimal.Zero, Orders: orderStats.ByPair[p.Key()].Orders}
		g.Go(func() error {
			snap, err := s.snapshot(gctx, sess, p)
			if err != nil {
				// A missing market only drops out of the volume figures.
				s.logger.WarnContext(gctx, "market_service: stats snapshot failed",
					slog.String("pair", p.Symbol),
					slog.String("error", err.Error()),
				)
				return nil
			}
			top[i].Volume = snap.Stats.Volume24h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MarketStats{}, err
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Volume.GreaterThan(top[j].Volume) })

	out := MarketStats{Global: GlobalStats{
		TotalOrders:    orderStats.Total,
		ActiveOrders:   orderStats.Active,
		TotalVolume24h: decimal.Zero,
		OrderFills24h:  orderStats.Fills24h,
		TopPairs:       top,
	}}
	for _, t := range top {
		out.Global.TotalVolume24h = out.Global.TotalVolume24h.Add(t.Volume)
	}

	if base != "" {
		p, err := reg.Pair(base, quote)
		if err != nil {
			return MarketStats{}, err
		}
		snap, err := s.snapshot(ctx, sess, p)
		if err != nil {
			return MarketStats{}, err
		}
		ps := orderStats.ByPair[p.Key()]
		out.Pair = &PairStats{
			Pair:         p.Symbol,
			BaseToken:    p.BaseToken,
			QuoteToken:   p.QuoteToken,
			Stats:        snap.Stats,
			Orders:       ps.Orders,
			ActiveOrders: ps.Active,
			Fills24h:     ps.Fills24h,
		}
	}
	return out, nil
}

// PairsMeta describes a pair listing.
type PairsMeta struct {
	ChainID    int64 `json:"chainId"`
	TotalPairs int   `json:"totalPairs"`
	Timestamp  int64 `json:"timestamp"`
	// Fallback is set while the registry serves its bootstrap set.
	Fallback bool `json:"fallback"`
}

// PairsResponse is the response of Pairs.
type PairsResponse struct {
	Pairs []domain.TokenPair `json:"pairs"`
	Meta  PairsMeta          `json:"meta"`
}

// Pairs lists up to limit canonical pairs of chainID, narrowed by query
// when it is not empty.
func (s *MarketService) Pairs(chainID int64, limit int, query string) (PairsResponse, error) {
	if limit == 0 {
		limit = DefaultPairsLimit
	}
	if limit < 0 || limit > MaxPairsLimit {
		return PairsResponse{}, domain.Invalid("limit", fmt.Sprintf("must be between 1 and %d", MaxPairsLimit))
	}
	reg, err := s.catalog.For(chainID)
	if err != nil {
		return PairsResponse{}, err
	}
	var pairs []domain.TokenPair
	if query != "" {
		pairs = reg.Search(query, limit)
	} else {
		pairs = reg.CanonicalPairs(limit)
	}
	if pairs == nil {
		pairs = []domain.TokenPair{}
	}
	return PairsResponse{
		Pairs: pairs,
		Meta: PairsMeta{
			ChainID:    chainID,
			TotalPairs: len(reg.CanonicalPairs(0)),
			Timestamp:  s.now().UnixMilli(),
			Fallback:   reg.Fallback(),
		},
	}, nil
}

// TokensResponse is the response of Tokens.
type TokensResponse struct {
	Tokens []domain.Token `json:"tokens"`
	Meta   TokensMeta     `json:"meta"`
}

// TokensMeta describes a token listing.
type TokensMeta struct {
	ChainID     int64 `json:"chainId"`
	TotalTokens int   `json:"totalTokens"`
	Timestamp   int64 `json:"timestamp"`
	Fallback    bool  `json:"fallback"`
}

// Tokens lists the tokens registered on chainID with their decimals, sorted
// by symbol.
func (s *MarketService) Tokens(chainID int64) (TokensResponse, error) {
	reg, err := s.catalog.For(chainID)
	if err != nil {
		return TokensResponse{}, err
	}
	tokens := reg.Tokens()
	return TokensResponse{
		Tokens: tokens,
		Meta: TokensMeta{
			ChainID:     chainID,
			TotalTokens: len(tokens),
			Timestamp:   s.now().UnixMilli(),
			Fallback:    reg.Fallback(),
		},
	}, nil
}

func (s *MarketService) engine(sess source.Session) (*pricing.Engine, *registry.Registry, error) {
	adapter, err := s.adapters.For(sess)
	if err != nil {
		return nil, nil, err
	}
	reg, err := s.catalog.For(sess.ChainID)
	if err != nil {
		return nil, nil, err
	}
	return pricing.NewEngine(adapter, reg, func(ctx context.Context, p domain.TokenPair) (domain.OrderBookSnapshot, error) {
		return s.snapshot(ctx, sess, p)
	}), reg, nil
}

// QuoteResult is the response of Quote. BuyAmount is in buy-token base
// units.
type QuoteResult struct {
	SellToken  string          `json:"sellToken"`
	BuyToken   string          `json:"buyToken"`
	SellAmount string          `json:"sellAmount"`
	BuyAmount  string          `json:"buyAmount"`
	Price      decimal.Decimal `json:"price"`
}

// Quote suggests a price for selling sellAmount (base units) of sellToken.
func (s *MarketService) Quote(ctx context.Context, sess source.Session, sellToken, buyToken, sellAmount string) (QuoteResult, error) {
	amount, err := positiveAmount("sellAmount", sellAmount)
	if err != nil {
		return QuoteResult{}, err
	}
	e, reg, err := s.engine(sess)
	if err != nil {
		return QuoteResult{}, err
	}
	price, err := e.SuggestPrice(ctx, sellToken, buyToken, amount)
	if err != nil {
		return QuoteResult{}, err
	}
	sellDec, _ := reg.Decimals(sellToken)
	buyDec, _ := reg.Decimals(buyToken)
	buy := decimal.NewFromBigInt(amount, -sellDec).Mul(price).Shift(buyDec).Floor()
	return QuoteResult{
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: amount.String(),
		BuyAmount:  buy.BigInt().String(),
		Price:      price,
	}, nil
}

// Pricing returns the named pricing strategies for selling amount of
// sellToken. slippage is a percentage; empty uses the default.
func (s *MarketService) Pricing(ctx context.Context, sess source.Session, sellToken, buyToken, amount, slippage string) (pricing.Pricing, error) {
	v, err := positiveAmount("amount", amount)
	if err != nil {
		return pricing.Pricing{}, err
	}
	slip := decimal.Zero
	if slippage != "" {
		if slip, err = decimal.NewFromString(slippage); err != nil {
			return pricing.Pricing{}, domain.Invalid("slippage", "not a number")
		}
	}
	e, _, err := s.engine(sess)
	if err != nil {
		return pricing.Pricing{}, err
	}
	return e.OptimalPricing(ctx, sellToken, buyToken, v, slip)
}
