package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

// transition returns the state change ev applies to an order. Every
// transition is idempotent: replaying an event never changes the result.
func transition(ev domain.OrderEvent, at time.Time) (domain.OrderUpdateFunc, error) {
	switch ev.Type {
	case domain.OrderEventCreated:
		return func(*domain.LimitOrder) (bool, error) { return false, nil }, nil

	case domain.OrderEventFilled:
		var cumulative *big.Int
		if ev.FilledAmount != "" {
			v, err := domain.ParseAmount("filledAmount", ev.FilledAmount)
			if err != nil {
				return nil, err
			}
			cumulative = v
		}
		return func(o *domain.LimitOrder) (bool, error) {
			c := cumulative
			if c == nil {
				c = o.MakingAmount
			}
			if !o.ApplyFill(c) {
				return false, nil
			}
			o.UpdatedAt = at
			return true, nil
		}, nil

	case domain.OrderEventCancelled, domain.OrderEventExpired:
		status := domain.OrderStatusCancelled
		if ev.Type == domain.OrderEventExpired {
			status = domain.OrderStatusExpired
		}
		return func(o *domain.LimitOrder) (bool, error) {
			if o.Status != domain.OrderStatusActive {
				return false, nil
			}
			o.Status = status
			o.UpdatedAt = at
			return true, nil
		}, nil
	}
	return nil, domain.Invalid("type", fmt.Sprintf("unknown order event type %q", ev.Type))
}

// ApplyEvent applies an order event to the session's copy of the order and
// records it in the event log. Filled events carry the cumulative filled
// amount; one without an amount fills the order completely. Applying the
// same event twice leaves the order unchanged. An active order found past
// its expiry is expired instead of transitioned.
func (s *OrderService) ApplyEvent(ctx context.Context, sess source.Session, ev domain.OrderEvent) (domain.LimitOrder, error) {
	if ev.ID == "" {
		return domain.LimitOrder{}, domain.Invalid("id", "required")
	}
	if ev.OrderID == "" {
		return domain.LimitOrder{}, domain.Invalid("orderId", "required")
	}
	now := s.now().UTC()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	apply, err := transition(ev, ev.Timestamp)
	if err != nil {
		return domain.LimitOrder{}, err
	}
	// An active order already past its expiry is corrected to expired and
	// the event is not applied to it.
	var expired bool
	fn := func(o *domain.LimitOrder) (bool, error) {
		if o.IsExpired(now) {
			o.Status = domain.OrderStatusExpired
			o.UpdatedAt = now
			expired = true
			return true, nil
		}
		return apply(o)
	}

	var (
		o       domain.LimitOrder
		changed bool
	)
	if sess.Demo {
		o, err = s.demo.Update(ctx, ev.OrderID, func(o *domain.LimitOrder) (bool, error) {
			if o.ChainID != sess.ChainID {
				return false, domain.ErrNotFound
			}
			c, err := fn(o)
			changed = c
			return c, err
		})
	} else {
		o, changed, err = s.applyLive(ctx, sess, fn, ev.OrderID)
	}
	if err != nil {
		return domain.LimitOrder{}, fmt.Errorf("order_service: apply event %q to %q: %w", ev.ID, ev.OrderID, err)
	}

	if expired {
		s.afterCancel(ctx, sess, o, domain.OrderEventExpired, now)
		return o.Presented(now), nil
	}
	if !s.record(ctx, ev) {
		s.logger.DebugContext(ctx, "order_service: event already recorded",
			slog.String("event_id", ev.ID),
			slog.String("order_id", ev.OrderID),
		)
	}
	if changed {
		publishOrder(ctx, s.bus, s.logger, ev.Type, sess, o)
	}
	return o.Presented(now), nil
}

func (s *OrderService) applyLive(ctx context.Context, sess source.Session, fn domain.OrderUpdateFunc, id string) (domain.LimitOrder, bool, error) {
	if _, err := s.adapters.For(sess); err != nil {
		return domain.LimitOrder{}, false, err
	}
	cache, err := s.cacheFor(sess.ChainID)
	if err != nil {
		return domain.LimitOrder{}, false, err
	}
	o, err := cache.Get(ctx, id)
	if err != nil {
		return domain.LimitOrder{}, false, err
	}
	changed, err := fn(&o)
	if err != nil || !changed {
		return o, false, err
	}
	cache.Put(o)
	s.mirrorUpsert(ctx, o)
	return o, true, nil
}

// ReconcileResult summarises one reconciliation pass.
type ReconcileResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Reconcile brings the session's local orders in line with their source of
// truth. Live sessions refresh every cached active order and its events
// from the aggregator, starting from the mirror's active orders after a
// restart; demo sessions mark orders past their expiry as
// expired in the demo table.
func (s *OrderService) Reconcile(ctx context.Context, sess source.Session) (ReconcileResult, error) {
	if sess.Demo {
		return s.sweepExpired(ctx, sess)
	}
	return s.reconcileLive(ctx, sess)
}

func (s *OrderService) sweepExpired(ctx context.Context, sess source.Session) (ReconcileResult, error) {
	var res ReconcileResult
	active, err := s.demo.List(ctx, domain.OrderFilter{ChainID: sess.ChainID, Status: domain.OrderStatusActive})
	if err != nil {
		return res, fmt.Errorf("order_service: reconcile %s: %w", sess, err)
	}
	now := s.now().UTC()
	for _, o := range active {
		if !o.IsExpired(now) {
			continue
		}
		res.Checked++
		var expired bool
		updated, err := s.demo.Update(ctx, o.ID, func(o *domain.LimitOrder) (bool, error) {
			if !o.IsExpired(now) {
				return false, nil
			}
			o.Status = domain.OrderStatusExpired
			o.UpdatedAt = now
			expired = true
			return true, nil
		})
		if err != nil {
			res.Failed++
			continue
		}
		if expired {
			res.Updated++
			s.afterCancel(ctx, sess, updated, domain.OrderEventExpired, now)
		}
	}
	return res, nil
}

func (s *OrderService) reconcileLive(ctx context.Context, sess source.Session) (ReconcileResult, error) {
	var res ReconcileResult
	adapter, err := s.adapters.For(sess)
	if err != nil {
		return res, fmt.Errorf("order_service: reconcile %s: %w", sess, err)
	}
	cache, err := s.cacheFor(sess.ChainID)
	if err != nil {
		return res, err
	}
	s.seedFromMirror(ctx, sess.ChainID, cache)

	now := s.now().UTC()
	for _, local := range cache.Active() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		up, err := adapter.GetOrder(ctx, local.ID)
		if err != nil {
			res.Failed++
			if errors.Is(err, domain.ErrNotFound) {
				cache.Invalidate(local.ID)
			}
			s.logger.WarnContext(ctx, "order_service: reconcile fetch failed",
				slog.String("order_id", local.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		events, err := adapter.OrderEvents(ctx, local.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "order_service: reconcile events failed",
				slog.String("order_id", local.ID),
				slog.String("error", err.Error()),
			)
		}
		for _, ev := range events {
			if ev.OrderID == "" {
				ev.OrderID = local.ID
			}
			s.record(ctx, ev)
		}

		merged := mergeUpstream(local, up)
		if merged.IsExpired(now) {
			merged.Status = domain.OrderStatusExpired
			merged.UpdatedAt = now
		}
		cache.Put(merged)

		event, changed := diff(local, merged)
		if !changed {
			continue
		}
		res.Updated++
		s.mirrorUpsert(ctx, merged)
		publishOrder(ctx, s.bus, s.logger, event, sess, merged)
	}
	if res.Updated > 0 {
		s.logger.InfoContext(ctx, "order_service: reconciled orders",
			slog.String("session", sess.String()),
			slog.Int("checked", res.Checked),
			slog.Int("updated", res.Updated),
		)
	}
	return res, nil
}

// diff names the event that turned before into after.
func diff(before, after domain.LimitOrder) (domain.OrderEventType, bool) {
	switch {
	case before.Status != after.Status && after.Status == domain.OrderStatusCancelled:
		return domain.OrderEventCancelled, true
	case before.Status != after.Status && after.Status == domain.OrderStatusExpired:
		return domain.OrderEventExpired, true
	case before.Status != after.Status,
		domain.IntString(before.FilledAmount) != domain.IntString(after.FilledAmount):
		return domain.OrderEventFilled, true
	}
	return "", false
}

// ObserveSnapshot feeds a polled snapshot into demo fill simulation. It
// satisfies feed.SnapshotObserver.
func (s *OrderService) ObserveSnapshot(ctx context.Context, sess source.Session, snap domain.OrderBookSnapshot) {
	if !sess.Demo {
		return
	}
	if _, err := s.ReconcileSnapshot(ctx, sess, snap); err != nil {
		s.logger.WarnContext(ctx, "order_service: demo fill simulation failed",
			slog.String("pair", snap.Pair),
			slog.String("error", err.Error()),
		)
	}
}

// ReconcileSnapshot fills the session's active demo orders on snap's pair
// that the book can take. An order selling the base fills against bids at
// or above its limit price; one selling the quote fills against asks at or
// below the inverse. Fills never exceed the visible liquidity or the order's
// remaining amount. It returns how many orders were filled, fully or
// partially. Live sessions are left to the aggregator.
func (s *OrderService) ReconcileSnapshot(ctx context.Context, sess source.Session, snap domain.OrderBookSnapshot) (int, error) {
	if !sess.Demo {
		return 0, nil
	}
	snap = snap.Normalized()
	if len(snap.Bids) == 0 && len(snap.Asks) == 0 {
		return 0, nil
	}
	tokens, err := s.tokens(sess.ChainID)
	if err != nil {
		return 0, fmt.Errorf("order_service: simulate fills: %w", err)
	}
	orders, err := s.demo.List(ctx, domain.OrderFilter{
		ChainID: sess.ChainID,
		Pair:    snap.TokenPair().Key(),
		Status:  domain.OrderStatusActive,
	})
	if err != nil {
		return 0, fmt.Errorf("order_service: simulate fills: %w", err)
	}

	now := s.now().UTC()
	at := snap.CapturedAt
	if at.IsZero() {
		at = now
	}
	filled := 0
	for _, o := range orders {
		if o.IsExpired(now) {
			continue
		}
		fill, ok := marketableFill(o, snap, tokens)
		if !ok {
			continue
		}
		cumulative := new(big.Int).Add(filledOf(o), fill)
		ev := domain.OrderEvent{
			ID:           fmt.Sprintf("%s:fill:%s", o.ID, cumulative),
			Type:         domain.OrderEventFilled,
			OrderID:      o.ID,
			Timestamp:    at,
			FilledAmount: cumulative.String(),
		}
		if _, err := s.ApplyEvent(ctx, sess, ev); err != nil {
			s.logger.WarnContext(ctx, "order_service: demo fill failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		filled++
	}
	return filled, nil
}

func filledOf(o domain.LimitOrder) *big.Int {
	if o.FilledAmount == nil {
		return big.NewInt(0)
	}
	return o.FilledAmount
}

// marketableFill returns how much of o (maker base units) snap can fill
// now. Prices are compared in display units using each asset's decimals.
func marketableFill(o domain.LimitOrder, snap domain.OrderBookSnapshot, tokens source.TokenInfo) (*big.Int, bool) {
	if o.MakingAmount == nil || o.TakingAmount == nil || o.MakingAmount.Sign() == 0 {
		return nil, false
	}
	makerDec, err := tokens.Decimals(o.MakerAsset)
	if err != nil {
		return nil, false
	}
	takerDec, err := tokens.Decimals(o.TakerAsset)
	if err != nil {
		return nil, false
	}
	remaining := o.RemainingAmount
	if remaining == nil {
		remaining = new(big.Int).Sub(o.MakingAmount, filledOf(o))
	}
	if remaining.Sign() <= 0 {
		return nil, false
	}

	making := decimal.NewFromBigInt(o.MakingAmount, -makerDec)
	taking := decimal.NewFromBigInt(o.TakingAmount, -takerDec)
	// Taker units asked per maker unit.
	limit := taking.DivRound(making, 18)

	available := decimal.Zero
	switch {
	case domain.SameAddress(o.MakerAsset, snap.BaseToken):
		for _, b := range snap.Bids {
			if b.Price.LessThan(limit) {
				break
			}
			available = available.Add(b.Amount)
		}
	case domain.SameAddress(o.MakerAsset, snap.QuoteToken):
		if !limit.IsPositive() {
			return nil, false
		}
		maxPrice := decimal.NewFromInt(1).DivRound(limit, 18)
		for _, a := range snap.Asks {
			if a.Price.GreaterThan(maxPrice) {
				break
			}
			available = available.Add(a.Total)
		}
	default:
		return nil, false
	}
	if !available.IsPositive() {
		return nil, false
	}

	fill := available.Shift(makerDec).Floor().BigInt()
	if fill.Cmp(remaining) > 0 {
		fill = new(big.Int).Set(remaining)
	}
	return fill, fill.Sign() > 0
}

// GCResult summarises one garbage collection pass.
type GCResult struct {
	Archived     int    `json:"archived"`
	Deleted      int    `json:"deleted"`
	EventsPruned int    `json:"eventsPruned"`
	ArchiveKey   string `json:"archiveKey,omitempty"`
}

// GC removes demo orders that have been terminal for longer than the
// retention window, together with their event history. With an archiver
// configured the batch is uploaded first and nothing is deleted if the
// upload fails.
func (s *OrderService) GC(ctx context.Context) (GCResult, error) {
	var res GCResult
	all, err := s.demo.List(ctx, domain.OrderFilter{})
	if err != nil {
		return res, fmt.Errorf("order_service: gc list: %w", err)
	}

	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.Retention)
	var stale []domain.LimitOrder
	for _, o := range all {
		p := o.Presented(now)
		if !p.Status.Terminal() {
			continue
		}
		ref := p.UpdatedAt
		if o.IsExpired(now) {
			ref = o.ExpiresAt
		}
		if ref.Before(cutoff) {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return res, nil
	}

	if s.archiver != nil {
		key, err := s.archiver.ArchiveOrders(ctx, stale)
		if err != nil {
			return res, fmt.Errorf("order_service: gc archive: %w", err)
		}
		res.Archived = len(stale)
		res.ArchiveKey = key
	}
	ids := make([]string, 0, len(stale))
	for _, o := range stale {
		if err := s.demo.Delete(ctx, o.ID); err != nil {
			return res, fmt.Errorf("order_service: gc delete %q: %w", o.ID, err)
		}
		res.Deleted++
		ids = append(ids, o.ID)
	}
	if s.events != nil {
		n, err := s.events.DeleteByOrder(ctx, ids...)
		if err != nil {
			return res, fmt.Errorf("order_service: gc prune events: %w", err)
		}
		res.EventsPruned = n
	}

	s.logger.InfoContext(ctx, "order_service: demo orders collected",
		slog.Int("deleted", res.Deleted),
		slog.Int("archived", res.Archived),
		slog.Int("events_pruned", res.EventsPruned),
		slog.String("archive_key", res.ArchiveKey),
	)
	return res, nil
}
