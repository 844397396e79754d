package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/cache/lru"
	"github.com/alanyoungcy/limitdesk/internal/crypto"
	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/source"
	"github.com/alanyoungcy/limitdesk/internal/store/memory"
)

// OrderConfig tunes the order lifecycle manager.
type OrderConfig struct {
	// DefaultTTL applies when a request carries no expiry.
	DefaultTTL time.Duration
	// Retention is how long terminal demo orders are kept before GC.
	Retention time.Duration
	// CacheSize and CacheFreshness size the per-chain live order cache.
	CacheSize      int
	CacheFreshness time.Duration
}

// DefaultOrderConfig returns a one day TTL and retention.
func DefaultOrderConfig() OrderConfig {
	return OrderConfig{
		DefaultTTL:     24 * time.Hour,
		Retention:      24 * time.Hour,
		CacheSize:      lru.DefaultSize,
		CacheFreshness: lru.DefaultFreshness,
	}
}

// saltLimit bounds generated salts to 96 bits.
var saltLimit = new(big.Int).Lsh(big.NewInt(1), 96)

// OrderService manages the limit order lifecycle. Demo sessions keep their
// orders in the demo table and never reach the network; live sessions treat
// the aggregator as the source of truth and hold only a cached copy.
type OrderService struct {
	adapters Adapters
	tokens   TokenLookup
	demo     domain.OrderStore
	events   domain.OrderEventStore
	cfg      OrderConfig
	logger   *slog.Logger
	now      func() time.Time

	mirror   domain.OrderMirror
	archiver domain.OrderArchiver
	bus      domain.SignalBus
	signers  map[int64]OrderSigner

	mu     sync.Mutex
	caches map[int64]*lru.OrderCache
	seeded map[int64]bool
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	adapters Adapters,
	tokens TokenLookup,
	demo domain.OrderStore,
	events domain.OrderEventStore,
	cfg OrderConfig,
	logger *slog.Logger,
) *OrderService {
	def := DefaultOrderConfig()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &OrderService{
		adapters: adapters,
		tokens:   tokens,
		demo:     demo,
		events:   events,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "order_service")),
		now:      time.Now,
		signers:  make(map[int64]OrderSigner),
		caches:   make(map[int64]*lru.OrderCache),
		seeded:   make(map[int64]bool),
	}
}

// WithMirror keeps a durable copy of every live order the service touches.
func (s *OrderService) WithMirror(m domain.OrderMirror) *OrderService {
	s.mirror = m
	return s
}

// WithArchiver uploads demo orders before GC deletes them.
func (s *OrderService) WithArchiver(a domain.OrderArchiver) *OrderService {
	s.archiver = a
	return s
}

// WithBus publishes order transitions on domain.ChannelOrder.
func (s *OrderService) WithBus(b domain.SignalBus) *OrderService {
	s.bus = b
	return s
}

// WithSigner signs live orders on the signer's chain whose maker is the
// signer's address.
func (s *OrderService) WithSigner(sig OrderSigner) *OrderService {
	s.signers[sig.ChainID()] = sig
	return s
}

// CreateOrderRequest is the body of an order submission.
type CreateOrderRequest struct {
	MakerAsset   string `json:"makerAsset"`
	TakerAsset   string `json:"takerAsset"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
	Maker        string `json:"maker"`
	// Expiry is a unix timestamp in seconds; zero applies the default TTL.
	Expiry int64 `json:"expiry"`
}

// build validates req and returns the active order it describes. Nothing is
// stored or sent until it passes.
func (s *OrderService) build(chainID int64, req CreateOrderRequest, now time.Time) (domain.LimitOrder, error) {
	o := domain.LimitOrder{ChainID: chainID, Status: domain.OrderStatusActive, CreatedAt: now, UpdatedAt: now}

	var err error
	if o.MakerAsset, err = domain.ParseAddress("makerAsset", req.MakerAsset); err != nil {
		return o, err
	}
	if o.TakerAsset, err = domain.ParseAddress("takerAsset", req.TakerAsset); err != nil {
		return o, err
	}
	if o.MakerAsset == o.TakerAsset {
		return o, domain.Invalid("takerAsset", "must differ from makerAsset")
	}
	if o.Maker, err = domain.ParseAddress("maker", req.Maker); err != nil {
		return o, err
	}
	if o.MakingAmount, err = positiveAmount("makingAmount", req.MakingAmount); err != nil {
		return o, err
	}
	if o.TakingAmount, err = positiveAmount("takingAmount", req.TakingAmount); err != nil {
		return o, err
	}

	switch {
	case req.Expiry == 0:
		o.ExpiresAt = now.Add(s.cfg.DefaultTTL).Truncate(time.Second)
	case req.Expiry < 0 || !time.Unix(req.Expiry, 0).After(now):
		return o, domain.Invalid("expiry", "must be in the future")
	default:
		o.ExpiresAt = time.Unix(req.Expiry, 0).UTC()
	}

	salt, err := rand.Int(rand.Reader, saltLimit)
	if err != nil {
		return o, fmt.Errorf("order_service: generate salt: %w", err)
	}
	o.Salt = salt.String()
	o.FilledAmount = big.NewInt(0)
	o.RemainingAmount = new(big.Int).Set(o.MakingAmount)

	if o.ID, err = crypto.OrderHash(o); err != nil {
		return o, fmt.Errorf("order_service: hash order: %w", err)
	}
	return o, nil
}

func positiveAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, domain.Invalid(field, "required")
	}
	v, err := domain.ParseAmount(field, s)
	if err != nil {
		return nil, err
	}
	if v.Sign() == 0 {
		return nil, domain.Invalid(field, "must be positive")
	}
	return v, nil
}

// CreateOrder validates req and submits the order for sess. The returned
// order is active with nothing filled.
func (s *OrderService) CreateOrder(ctx context.Context, sess source.Session, req CreateOrderRequest) (domain.LimitOrder, error) {
	now := s.now().UTC()
	order, err := s.build(sess.ChainID, req, now)
	if err != nil {
		return domain.LimitOrder{}, err
	}
	adapter, err := s.adapters.For(sess)
	if err != nil {
		return domain.LimitOrder{}, fmt.Errorf("order_service: create order: %w", err)
	}

	if sess.Demo {
		ack, err := adapter.SubmitOrder(ctx, order)
		if err != nil {
			return domain.LimitOrder{}, fmt.Errorf("order_service: submit order %q: %w", order.ID, err)
		}
		order = ack
		if err := s.demo.Create(ctx, order); err != nil {
			return domain.LimitOrder{}, fmt.Errorf("order_service: create order %q: %w", order.ID, err)
		}
	} else {
		if order, err = s.submitLive(ctx, adapter, order); err != nil {
			return domain.LimitOrder{}, err
		}
	}

	s.record(ctx, domain.OrderEvent{
		ID:        order.ID + ":created",
		Type:      domain.OrderEventCreated,
		OrderID:   order.ID,
		Timestamp: now,
	})
	publishOrder(ctx, s.bus, s.logger, domain.OrderEventCreated, sess, order)

	s.logger.InfoContext(ctx, "order_service: order created",
		slog.String("order_id", order.ID),
		slog.String("session", sess.String()),
		slog.String("maker", order.Maker),
		slog.String("pair", domain.PairKey(order.MakerAsset, order.TakerAsset)),
	)
	return order.Presented(now), nil
}

func (s *OrderService) submitLive(ctx context.Context, adapter source.Adapter, order domain.LimitOrder) (domain.LimitOrder, error) {
	if signer, ok := s.signers[order.ChainID]; ok && domain.SameAddress(signer.Address().Hex(), order.Maker) {
		sig, err := signer.SignOrder(order)
		if err != nil {
			return domain.LimitOrder{}, fmt.Errorf("order_service: sign order %q: %w", order.ID, err)
		}
		order.Signature = sig
	}

	ack, err := adapter.SubmitOrder(ctx, order)
	if err != nil {
		return domain.LimitOrder{}, fmt.Errorf("order_service: submit order %q: %w", order.ID, err)
	}
	out := mergeUpstream(order, ack)

	cache, err := s.cacheFor(order.ChainID)
	if err != nil {
		return domain.LimitOrder{}, err
	}
	cache.Put(out)
	s.mirrorUpsert(ctx, out)
	return out, nil
}

// mergeUpstream overlays the upstream view of an order on the local copy.
// Upstream owns status and fill progress; identity fields it leaves blank
// keep their local values.
func mergeUpstream(local, up domain.LimitOrder) domain.LimitOrder {
	out := local.Clone()
	if up.ID != "" {
		out.ID = up.ID
	}
	if up.Status != "" {
		out.Status = up.Status
	}
	if !up.CreatedAt.IsZero() {
		out.CreatedAt = up.CreatedAt
	}
	if !up.ExpiresAt.IsZero() {
		out.ExpiresAt = up.ExpiresAt
	}
	if up.FilledAmount != nil {
		out.FilledAmount = new(big.Int).Set(up.FilledAmount)
	}
	if up.RemainingAmount != nil {
		out.RemainingAmount = new(big.Int).Set(up.RemainingAmount)
	} else if out.MakingAmount != nil && out.FilledAmount != nil {
		out.RemainingAmount = new(big.Int).Sub(out.MakingAmount, out.FilledAmount)
	}
	if up.Signature != "" {
		out.Signature = up.Signature
	}
	if !up.UpdatedAt.IsZero() {
		out.UpdatedAt = up.UpdatedAt
	}
	return out
}

func (s *OrderService) cacheFor(chainID int64) (*lru.OrderCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[chainID]; ok {
		return c, nil
	}
	sess := source.Session{ChainID: chainID}
	c, err := lru.New(s.cfg.CacheSize, s.cfg.CacheFreshness, func(ctx context.Context, id string) (domain.LimitOrder, error) {
		adapter, err := s.adapters.For(sess)
		if err != nil {
			return domain.LimitOrder{}, err
		}
		return adapter.GetOrder(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("order_service: order cache for chain %d: %w", chainID, err)
	}
	s.caches[chainID] = c
	return c, nil
}

// seedFromMirror loads the mirror's active orders of chainID into cache the
// first time it succeeds, so a restarted process keeps reconciling orders
// nobody has read yet. Orders already cached are left alone.
func (s *OrderService) seedFromMirror(ctx context.Context, chainID int64, cache *lru.OrderCache) {
	if s.mirror == nil {
		return
	}
	s.mu.Lock()
	done := s.seeded[chainID]
	s.mu.Unlock()
	if done {
		return
	}

	limit := s.cfg.CacheSize
	if limit <= 0 {
		limit = lru.DefaultSize
	}
	orders, err := s.mirror.List(ctx, domain.OrderFilter{ChainID: chainID, Status: domain.OrderStatusActive, Limit: limit})
	if err != nil {
		s.logger.WarnContext(ctx, "order_service: seed from mirror failed",
			slog.Int64("chain_id", chainID),
			slog.String("error", err.Error()),
		)
		return
	}
	seeded := 0
	for _, o := range orders {
		if _, ok := cache.Peek(o.ID); ok {
			continue
		}
		cache.Put(o)
		seeded++
	}
	s.mu.Lock()
	s.seeded[chainID] = true
	s.mu.Unlock()
	if seeded > 0 {
		s.logger.InfoContext(ctx, "order_service: seeded live orders from mirror",
			slog.Int64("chain_id", chainID),
			slog.Int("orders", seeded),
		)
	}
}

func (s *OrderService) mirrorUpsert(ctx context.Context, o domain.LimitOrder) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Upsert(ctx, o); err != nil {
		s.logger.WarnContext(ctx, "order_service: mirror upsert failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}

// record appends ev to the event log and reports whether it was new.
func (s *OrderService) record(ctx context.Context, ev domain.OrderEvent) bool {
	if s.events == nil {
		return true
	}
	added, err := s.events.Append(ctx, ev)
	if err != nil {
		s.logger.WarnContext(ctx, "order_service: append event failed",
			slog.String("event_id", ev.ID),
			slog.String("order_id", ev.OrderID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return added
}

// GetOrder returns the order as it should be presented now: an active order
// past its expiry reads as expired.
func (s *OrderService) GetOrder(ctx context.Context, sess source.Session, id string) (domain.LimitOrder, error) {
	if id == "" {
		return domain.LimitOrder{}, domain.Invalid("id", "required")
	}
	o, err := s.load(ctx, sess, id)
	if err != nil {
		return domain.LimitOrder{}, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	return o.Presented(s.now()), nil
}

func (s *OrderService) load(ctx context.Context, sess source.Session, id string) (domain.LimitOrder, error) {
	if sess.Demo {
		o, err := s.demo.Get(ctx, id)
		if err != nil {
			return domain.LimitOrder{}, err
		}
		if o.ChainID != sess.ChainID {
			return domain.LimitOrder{}, domain.ErrNotFound
		}
		return o, nil
	}

	if _, err := s.adapters.For(sess); err != nil {
		return domain.LimitOrder{}, err
	}
	cache, err := s.cacheFor(sess.ChainID)
	if err != nil {
		return domain.LimitOrder{}, err
	}
	o, err := cache.Get(ctx, id)
	if err != nil && errors.Is(err, domain.ErrTransientUpstream) {
		// Serve the last known copy while the aggregator is unreachable.
		if stale, ok := cache.Peek(id); ok {
			s.logger.WarnContext(ctx, "order_service: serving cached order, upstream unreachable",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			return stale, nil
		}
	}
	return o, err
}

// OrderEvents returns the recorded history of an order, oldest first. The
// order must be visible to sess.
func (s *OrderService) OrderEvents(ctx context.Context, sess source.Session, id string) ([]domain.OrderEvent, error) {
	if id == "" {
		return nil, domain.Invalid("id", "required")
	}
	if _, err := s.load(ctx, sess, id); err != nil {
		return nil, fmt.Errorf("order_service: events of %q: %w", id, err)
	}
	if s.events == nil {
		return []domain.OrderEvent{}, nil
	}
	evs, err := s.events.ListByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("order_service: events of %q: %w", id, err)
	}
	if evs == nil {
		evs = []domain.OrderEvent{}
	}
	return evs, nil
}

// ListOrders returns the session's orders matching f, newest first. Status
// filtering uses the presented status, so an expired order no longer
// matches "active".
func (s *OrderService) ListOrders(ctx context.Context, sess source.Session, f domain.OrderFilter) ([]domain.LimitOrder, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, domain.Invalid("limit", "limit and offset must not be negative")
	}
	base := domain.OrderFilter{ChainID: sess.ChainID, Pair: f.Pair}
	if f.Maker != "" {
		maker, err := domain.ParseAddress("maker", f.Maker)
		if err != nil {
			return nil, err
		}
		base.Maker = maker
	}

	raw, err := s.listRaw(ctx, sess, base)
	if err != nil {
		return nil, fmt.Errorf("order_service: list orders: %w", err)
	}

	now := s.now()
	out := make([]domain.LimitOrder, 0, len(raw))
	for _, o := range raw {
		p := o.Presented(now)
		if !memory.Matches(p, domain.OrderFilter{ChainID: base.ChainID, Maker: base.Maker, Pair: base.Pair, Status: f.Status}) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return memory.Page(out, f.Offset, f.Limit), nil
}

func (s *OrderService) listRaw(ctx context.Context, sess source.Session, f domain.OrderFilter) ([]domain.LimitOrder, error) {
	if sess.Demo {
		return s.demo.List(ctx, f)
	}
	adapter, err := s.adapters.For(sess)
	if err != nil {
		return nil, err
	}
	orders, err := adapter.ListOrders(ctx, f)
	if err != nil {
		if s.mirror != nil && errors.Is(err, domain.ErrTransientUpstream) {
			s.logger.WarnContext(ctx, "order_service: listing from mirror, upstream unreachable",
				slog.String("session", sess.String()),
				slog.String("error", err.Error()),
			)
			return s.mirror.List(ctx, f)
		}
		return nil, err
	}
	cache, err := s.cacheFor(sess.ChainID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		cache.Put(o)
	}
	return orders, nil
}

// CancelResult acknowledges a cancellation. Cancelled is false when the
// call was a no-op: the order was unknown or no longer active.
type CancelResult struct {
	OrderID   string             `json:"orderId"`
	Status    domain.OrderStatus `json:"status,omitempty"`
	Cancelled bool               `json:"cancelled"`
}

// CancelOrder cancels an active order. Cancelling an unknown or non-active
// order succeeds without changing anything. An active order found past its
// expiry is corrected to expired instead.
func (s *OrderService) CancelOrder(ctx context.Context, sess source.Session, id string) (CancelResult, error) {
	if id == "" {
		return CancelResult{}, domain.Invalid("id", "required")
	}
	if sess.Demo {
		return s.cancelDemo(ctx, sess, id)
	}
	return s.cancelLive(ctx, sess, id)
}

func (s *OrderService) cancelDemo(ctx context.Context, sess source.Session, id string) (CancelResult, error) {
	now := s.now().UTC()
	var event domain.OrderEventType
	o, err := s.demo.Update(ctx, id, func(o *domain.LimitOrder) (bool, error) {
		if o.ChainID != sess.ChainID {
			return false, domain.ErrNotFound
		}
		switch {
		case o.IsExpired(now):
			o.Status = domain.OrderStatusExpired
			event = domain.OrderEventExpired
		case o.Status != domain.OrderStatusActive:
			return false, nil
		default:
			o.Status = domain.OrderStatusCancelled
			event = domain.OrderEventCancelled
		}
		o.UpdatedAt = now
		return true, nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return CancelResult{OrderID: id}, nil
	}
	if err != nil {
		return CancelResult{}, fmt.Errorf("order_service: cancel order %q: %w", id, err)
	}
	s.afterCancel(ctx, sess, o, event, now)
	return CancelResult{OrderID: id, Status: o.Status, Cancelled: event == domain.OrderEventCancelled}, nil
}

func (s *OrderService) cancelLive(ctx context.Context, sess source.Session, id string) (CancelResult, error) {
	now := s.now().UTC()
	adapter, err := s.adapters.For(sess)
	if err != nil {
		return CancelResult{}, fmt.Errorf("order_service: cancel order %q: %w", id, err)
	}
	cache, err := s.cacheFor(sess.ChainID)
	if err != nil {
		return CancelResult{}, err
	}

	cur, err := cache.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return CancelResult{OrderID: id}, nil
	}
	if err != nil {
		return CancelResult{}, fmt.Errorf("order_service: cancel order %q: %w", id, err)
	}
	if cur.ChainID != 0 && cur.ChainID != sess.ChainID {
		return CancelResult{OrderID: id}, nil
	}

	if cur.IsExpired(now) {
		cur.Status = domain.OrderStatusExpired
		cur.UpdatedAt = now
		cache.Put(cur)
		s.mirrorUpsert(ctx, cur)
		s.afterCancel(ctx, sess, cur, domain.OrderEventExpired, now)
		return CancelResult{OrderID: id, Status: cur.Status}, nil
	}
	if cur.Status != domain.OrderStatusActive {
		return CancelResult{OrderID: id, Status: cur.Status}, nil
	}

	if err := adapter.CancelOrder(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			cache.Invalidate(id)
			return CancelResult{OrderID: id, Status: cur.Status}, nil
		}
		return CancelResult{}, fmt.Errorf("order_service: cancel order %q: %w", id, err)
	}
	cur.Status = domain.OrderStatusCancelled
	cur.UpdatedAt = now
	cache.Put(cur)
	s.mirrorUpsert(ctx, cur)
	s.afterCancel(ctx, sess, cur, domain.OrderEventCancelled, now)
	return CancelResult{OrderID: id, Status: cur.Status, Cancelled: true}, nil
}

func (s *OrderService) afterCancel(ctx context.Context, sess source.Session, o domain.LimitOrder, event domain.OrderEventType, at time.Time) {
	if event == "" {
		return
	}
	s.record(ctx, domain.OrderEvent{
		ID:        o.ID + ":" + string(event),
		Type:      event,
		OrderID:   o.ID,
		Timestamp: at,
	})
	publishOrder(ctx, s.bus, s.logger, event, sess, o)
	s.logger.InfoContext(ctx, "order_service: order "+string(event),
		slog.String("order_id", o.ID),
		slog.String("session", sess.String()),
	)
}

// OrderHealth reports the size of the service's local state. Counts a store
// cannot report are left at zero.
type OrderHealth struct {
	DemoOrders  int   `json:"demo_orders"`
	Events      int   `json:"events"`
	LiveCached  int   `json:"live_cached"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
}

type sized interface{ Len() int }

// Health sums the demo table, event log and live order caches.
func (s *OrderService) Health() OrderHealth {
	var h OrderHealth
	if t, ok := s.demo.(sized); ok {
		h.DemoOrders = t.Len()
	}
	if l, ok := s.events.(sized); ok {
		h.Events = l.Len()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.caches {
		hits, misses := c.Stats()
		h.LiveCached += c.Len()
		h.CacheHits += hits
		h.CacheMisses += misses
	}
	return h
}

// statsWindow is the lookback of the fill counters.
const statsWindow = 24 * time.Hour

// OrderStats counts a session's orders. Fills24h counts fill events recorded
// for them over the last day.
type OrderStats struct {
	Total    int                       `json:"total"`
	Active   int                       `json:"active"`
	Fills24h int                       `json:"fills24h"`
	ByPair   map[string]PairOrderStats `json:"byPair"`
}

// PairOrderStats counts the orders of one pair key.
type PairOrderStats struct {
	Orders   int `json:"orders"`
	Active   int `json:"active"`
	Fills24h int `json:"fills24h"`
}

// Stats counts the session's orders by presented status and pair.
func (s *OrderService) Stats(ctx context.Context, sess source.Session) (OrderStats, error) {
	orders, err := s.ListOrders(ctx, sess, domain.OrderFilter{})
	if err != nil {
		return OrderStats{}, err
	}
	st := OrderStats{Total: len(orders), ByPair: make(map[string]PairOrderStats)}
	pairOf := make(map[string]string, len(orders))
	for _, o := range orders {
		key := domain.PairKey(o.MakerAsset, o.TakerAsset)
		pairOf[o.ID] = key
		p := st.ByPair[key]
		p.Orders++
		if o.Status == domain.OrderStatusActive {
			st.Active++
			p.Active++
		}
		st.ByPair[key] = p
	}
	if s.events == nil || len(orders) == 0 {
		return st, nil
	}

	recent, err := s.events.ListSince(ctx, s.now().Add(-statsWindow), 0)
	if err != nil {
		// Counts stay usable without the fill figures.
		s.logger.WarnContext(ctx, "order_service: recent events unavailable",
			slog.String("session", sess.String()),
			slog.String("error", err.Error()),
		)
		return st, nil
	}
	for _, ev := range recent {
		key, ok := pairOf[ev.OrderID]
		if !ok || ev.Type != domain.OrderEventFilled {
			continue
		}
		st.Fills24h++
		p := st.ByPair[key]
		p.Fills24h++
		st.ByPair[key] = p
	}
	return st, nil
}
