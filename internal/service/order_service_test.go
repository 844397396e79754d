package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/limitdesk/internal/crypto"
	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

const oneEth = "1000000000000000000"

func TestCreateThenCancelDemoOrder(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := f.bus.Subscribe(ctx, domain.ChannelOrder)
	require.NoError(t, err)

	o, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", 24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusActive, o.Status)
	assert.Equal(t, oneEth, o.RemainingAmount.String())
	assert.Equal(t, "0", o.FilledAmount.String())
	assert.Len(t, o.ID, 66)
	assert.Empty(t, o.Signature, "demo orders are never signed")

	var created domain.OrderUpdate
	require.NoError(t, json.Unmarshal(requireUpdate(t, updates), &created))
	assert.Equal(t, domain.OrderEventCreated, created.Event)
	assert.True(t, created.Demo)
	assert.Equal(t, o.ID, created.Order.ID)

	res, err := f.orders.CancelOrder(ctx, demoSess, o.ID)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)

	got, err := f.orders.GetOrder(ctx, demoSess, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)

	var cancelled domain.OrderUpdate
	require.NoError(t, json.Unmarshal(requireUpdate(t, updates), &cancelled))
	assert.Equal(t, domain.OrderEventCancelled, cancelled.Event)

	again, err := f.orders.CancelOrder(ctx, demoSess, o.ID)
	require.NoError(t, err)
	assert.False(t, again.Cancelled)
	assert.Equal(t, domain.OrderStatusCancelled, again.Status)

	unknown, err := f.orders.CancelOrder(ctx, demoSess, "0xdeadbeef")
	require.NoError(t, err)
	assert.False(t, unknown.Cancelled)
}

func TestCreateOrderRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	valid := f.request(oneEth, "3200000000", time.Hour)

	cases := map[string]func(r *CreateOrderRequest){
		"same asset":        func(r *CreateOrderRequest) { r.TakerAsset = r.MakerAsset },
		"zero making":       func(r *CreateOrderRequest) { r.MakingAmount = "0" },
		"missing taking":    func(r *CreateOrderRequest) { r.TakingAmount = "" },
		"negative taking":   func(r *CreateOrderRequest) { r.TakingAmount = "-5" },
		"fractional amount": func(r *CreateOrderRequest) { r.MakingAmount = "1.5" },
		"missing maker":     func(r *CreateOrderRequest) { r.Maker = "" },
		"bad maker asset":   func(r *CreateOrderRequest) { r.MakerAsset = "0x123" },
		"past expiry":       func(r *CreateOrderRequest) { r.Expiry = f.clock.Now().Add(-time.Minute).Unix() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			mutate(&req)
			_, err := f.orders.CreateOrder(context.Background(), demoSess, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Zero(t, f.table.Len(), "rejected requests must not touch the demo table")
}

func TestCreateOrderDefaultsExpiryAndRejectsUnsupportedChain(t *testing.T) {
	f := newFixture(t)
	req := f.request(oneEth, "3200000000", 0)
	req.Expiry = 0

	o, err := f.orders.CreateOrder(context.Background(), demoSess, req)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), o.ExpiresAt)

	_, err = f.orders.CreateOrder(context.Background(), source.Session{ChainID: 137, Demo: true}, req)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
}

func TestExpiredOrderIsPresentedAsExpiredAndCorrectedOnWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Minute))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	got, err := f.orders.GetOrder(ctx, demoSess, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, got.Status)

	stored, err := f.table.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusActive, stored.Status, "reads never write")

	active, err := f.orders.ListOrders(ctx, demoSess, domain.OrderFilter{Status: domain.OrderStatusActive})
	require.NoError(t, err)
	assert.Empty(t, active)
	expired, err := f.orders.ListOrders(ctx, demoSess, domain.OrderFilter{Status: domain.OrderStatusExpired})
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	res, err := f.orders.CancelOrder(ctx, demoSess, o.ID)
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, domain.OrderStatusExpired, res.Status)

	stored, err = f.table.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, stored.Status)
}

func TestGetOrderScopesBySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, demoSess, "0xmissing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The live session never sees demo orders.
	_, err = f.orders.GetOrder(ctx, liveSess, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListOrdersFiltersAndPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Hour))
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	other := f.request(oneEth, "3200000000", time.Hour)
	other.Maker = signerAddress
	_, err := f.orders.CreateOrder(ctx, demoSess, other)
	require.NoError(t, err)

	mine, err := f.orders.ListOrders(ctx, demoSess, domain.OrderFilter{Maker: maker})
	require.NoError(t, err)
	require.Len(t, mine, 5)
	assert.True(t, mine[0].CreatedAt.After(mine[4].CreatedAt), "newest first")

	page, err := f.orders.ListOrders(ctx, demoSess, domain.OrderFilter{Maker: maker, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = f.orders.ListOrders(ctx, demoSess, domain.OrderFilter{Limit: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestApplyEventIsIdempotentAndCumulative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)

	partial := domain.OrderEvent{ID: "ev-1", Type: domain.OrderEventFilled, OrderID: o.ID, FilledAmount: "400000000000000000"}
	got, err := f.orders.ApplyEvent(ctx, demoSess, partial)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusActive, got.Status)
	assert.Equal(t, "600000000000000000", got.RemainingAmount.String())

	got, err = f.orders.ApplyEvent(ctx, demoSess, partial)
	require.NoError(t, err)
	assert.Equal(t, "400000000000000000", got.FilledAmount.String())

	full := domain.OrderEvent{ID: "ev-2", Type: domain.OrderEventFilled, OrderID: o.ID, FilledAmount: oneEth}
	got, err = f.orders.ApplyEvent(ctx, demoSess, full)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.Equal(t, "0", got.RemainingAmount.String())

	late := domain.OrderEvent{ID: "ev-3", Type: domain.OrderEventCancelled, OrderID: o.ID}
	got, err = f.orders.ApplyEvent(ctx, demoSess, late)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)

	evs, err := f.events.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 4, "created, two fills and the late cancel; the replay is dropped")

	_, err = f.orders.ApplyEvent(ctx, demoSess, domain.OrderEvent{ID: "x", Type: "bogus", OrderID: o.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.orders.ApplyEvent(ctx, demoSess, domain.OrderEvent{ID: "y", Type: domain.OrderEventFilled, OrderID: "0xnope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcileSnapshotFillsMarketableDemoOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Selling 1 WETH for 1 USDC crosses every bid.
	cheap, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "1000000", time.Hour))
	require.NoError(t, err)
	// Selling 1 WETH for 1,000,000 USDC crosses nothing.
	dear, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "1000000000000", time.Hour))
	require.NoError(t, err)
	// Selling 3200 USDC for 0.0001 WETH crosses every ask.
	buy := f.request("3200000000", "100000000000000", time.Hour)
	buy.MakerAsset, buy.TakerAsset = usdc, weth
	bid, err := f.orders.CreateOrder(ctx, demoSess, buy)
	require.NoError(t, err)

	snap, err := f.market.Snapshot(ctx, demoSess, weth, usdc)
	require.NoError(t, err)

	n, err := f.orders.ReconcileSnapshot(ctx, demoSess, snap)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := f.orders.GetOrder(ctx, demoSess, cheap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.Equal(t, oneEth, got.FilledAmount.String())

	got, err = f.orders.GetOrder(ctx, demoSess, dear.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusActive, got.Status)
	assert.Equal(t, "0", got.FilledAmount.String())

	got, err = f.orders.GetOrder(ctx, demoSess, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)

	n, err = f.orders.ReconcileSnapshot(ctx, liveSess, snap)
	require.NoError(t, err)
	assert.Zero(t, n, "live fills come from the aggregator")
}

func TestMarketableFillIsBoundedByVisibleLiquidity(t *testing.T) {
	f := newFixture(t)
	tokens, err := f.orders.tokens(1)
	require.NoError(t, err)
	snap := domain.OrderBookSnapshot{
		BaseToken: weth, QuoteToken: usdc,
		Bids: []domain.OrderBookEntry{
			{Price: d("3200"), Amount: d("0.25")},
			{Price: d("3100"), Amount: d("5")},
		},
		Asks: []domain.OrderBookEntry{{Price: d("3300"), Amount: d("1")}},
	}.Normalized()

	o := domain.LimitOrder{
		MakerAsset: weth, TakerAsset: usdc,
		MakingAmount: big.NewInt(1_000_000_000_000_000_000), TakingAmount: big.NewInt(3_150_000_000),
	}
	fill, ok := marketableFill(o, snap, tokens)
	require.True(t, ok)
	// Only the 3200 bid is at or above 3150.
	assert.Equal(t, "250000000000000000", fill.String())
}

func TestReconcileSweepsExpiredDemoOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Minute))
	require.NoError(t, err)
	_, err = f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	res, err := f.orders.Reconcile(ctx, demoSess)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	stored, err := f.table.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, stored.Status)
}

func TestGCArchivesBeforeDeleting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	archiver := &captureArchiver{}
	f.orders.WithArchiver(archiver)

	done, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)
	_, err = f.orders.CancelOrder(ctx, demoSess, done.ID)
	require.NoError(t, err)
	live, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", 72*time.Hour))
	require.NoError(t, err)

	res, err := f.orders.GC(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted, "inside the retention window")
	assert.Equal(t, 3, f.events.Len(), "two creates and one cancel")

	f.clock.Advance(25 * time.Hour)
	archiver.err = errors.New("bucket unavailable")
	_, err = f.orders.GC(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, f.table.Len(), "nothing is deleted when the archive fails")
	assert.Equal(t, 3, f.events.Len())

	archiver.err = nil
	res, err = f.orders.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Archived)
	assert.Equal(t, 2, res.EventsPruned)
	assert.NotEmpty(t, res.ArchiveKey)
	require.Len(t, archiver.batches, 1)
	assert.Equal(t, done.ID, archiver.batches[0][0].ID)

	_, err = f.table.Get(ctx, live.ID)
	assert.NoError(t, err)

	assert.Equal(t, 1, f.events.Len(), "the collected order's history is gone")
	evs, err := f.events.ListByOrder(ctx, done.ID)
	require.NoError(t, err)
	assert.Empty(t, evs)
	evs, err = f.events.ListByOrder(ctx, live.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestGCWithoutArchiverStillPrunesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 3 {
		o, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Hour))
		require.NoError(t, err)
		_, err = f.orders.CancelOrder(ctx, demoSess, o.ID)
		require.NoError(t, err)
	}
	require.Equal(t, 6, f.events.Len())

	f.clock.Advance(48 * time.Hour)
	res, err := f.orders.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Zero(t, res.Archived)
	assert.Equal(t, 6, res.EventsPruned)
	assert.Zero(t, f.events.Len())
	assert.Zero(t, f.table.Len())
}

func TestApplyEventExpiresPastDueOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	updates, err := f.bus.Subscribe(ctx, domain.ChannelOrder)
	require.NoError(t, err)

	o, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Minute))
	require.NoError(t, err)
	requireUpdate(t, updates)

	f.clock.Advance(5 * time.Minute)
	fill := domain.OrderEvent{ID: "late-fill", Type: domain.OrderEventFilled, OrderID: o.ID, FilledAmount: oneEth}
	got, err := f.orders.ApplyEvent(ctx, demoSess, fill)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, got.Status)
	assert.Equal(t, "0", got.FilledAmount.String())

	stored, err := f.table.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, stored.Status, "the store is corrected on write")
	assert.Equal(t, oneEth, stored.RemainingAmount.String())

	var u domain.OrderUpdate
	require.NoError(t, json.Unmarshal(requireUpdate(t, updates), &u))
	assert.Equal(t, domain.OrderEventExpired, u.Event)

	evs, err := f.events.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.OrderEventExpired, evs[1].Type, "the late fill is not recorded")
}

func TestOrderEventsReturnsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)
	_, err = f.orders.CancelOrder(ctx, demoSess, o.ID)
	require.NoError(t, err)

	evs, err := f.orders.OrderEvents(ctx, demoSess, o.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.OrderEventCreated, evs[0].Type)
	assert.Equal(t, domain.OrderEventCancelled, evs[1].Type)

	_, err = f.orders.OrderEvents(ctx, demoSess, "0xmissing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.orders.OrderEvents(ctx, demoSess, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStatsCountsRecentFills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", 72*time.Hour))
	require.NoError(t, err)
	_, err = f.orders.ApplyEvent(ctx, demoSess, domain.OrderEvent{
		ID: "part", Type: domain.OrderEventFilled, OrderID: o.ID, FilledAmount: "500000000000000000",
	})
	require.NoError(t, err)

	st, err := f.orders.Stats(ctx, demoSess)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Fills24h)
	assert.Equal(t, 1, st.ByPair[domain.PairKey(weth, usdc)].Fills24h)

	f.clock.Advance(25 * time.Hour)
	st, err = f.orders.Stats(ctx, demoSess)
	require.NoError(t, err)
	assert.Zero(t, st.Fills24h)
	assert.Equal(t, 1, st.Active)
}

func TestHealthCountsLocalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orders.CreateOrder(ctx, demoSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)
	o, err := f.orders.CreateOrder(ctx, liveSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)
	_, err = f.orders.GetOrder(ctx, liveSess, o.ID)
	require.NoError(t, err)

	h := f.orders.Health()
	assert.Equal(t, 1, h.DemoOrders)
	assert.Equal(t, 2, h.Events)
	assert.Equal(t, 1, h.LiveCached)
	assert.Equal(t, int64(1), h.CacheHits)
}

func TestLiveOrderIsSignedSubmittedAndCancelledUpstream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	signer, err := crypto.NewSigner(signerKey, 1, signerContract)
	require.NoError(t, err)
	mirror := &recordingMirror{}
	f.orders.WithSigner(signer).WithMirror(mirror)

	req := f.request(oneEth, "3200000000", time.Hour)
	req.Maker = signerAddress
	o, err := f.orders.CreateOrder(ctx, liveSess, req)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusActive, o.Status)
	require.Len(t, f.agg.submitted, 1)
	require.NotEmpty(t, f.agg.submitted[0].Signature)

	recovered, err := signer.Recover(f.agg.submitted[0], f.agg.submitted[0].Signature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
	assert.Zero(t, f.table.Len(), "live orders never enter the demo table")
	assert.Equal(t, 1, mirror.upserts)

	got, err := f.orders.GetOrder(ctx, liveSess, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Zero(t, f.agg.gets, "served from the order cache")

	res, err := f.orders.CancelOrder(ctx, liveSess, o.ID)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, f.agg.cancels)

	res, err = f.orders.CancelOrder(ctx, liveSess, o.ID)
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, 1, f.agg.cancels, "a cancelled order is not cancelled upstream again")
	assert.Equal(t, domain.OrderStatusCancelled, mirror.orders[o.ID].Status)
}

func TestLiveOrderForOtherMakerIsSubmittedUnsigned(t *testing.T) {
	f := newFixture(t)
	signer, err := crypto.NewSigner(signerKey, 1, signerContract)
	require.NoError(t, err)
	f.orders.WithSigner(signer)

	_, err = f.orders.CreateOrder(context.Background(), liveSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)
	require.Len(t, f.agg.submitted, 1)
	assert.Empty(t, f.agg.submitted[0].Signature)
}

func TestLiveReconcileAppliesUpstreamFills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mirror := &recordingMirror{}
	f.orders.WithMirror(mirror)
	updates, err := f.bus.Subscribe(ctx, domain.ChannelOrder)
	require.NoError(t, err)

	o, err := f.orders.CreateOrder(ctx, liveSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)
	requireUpdate(t, updates)

	f.agg.fill(o.ID, big.NewInt(1_000_000_000_000_000_000))

	res, err := f.orders.Reconcile(ctx, liveSess)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Updated)

	var u domain.OrderUpdate
	require.NoError(t, json.Unmarshal(requireUpdate(t, updates), &u))
	assert.Equal(t, domain.OrderEventFilled, u.Event)
	assert.Equal(t, domain.OrderStatusFilled, u.Order.Status)

	got, err := f.orders.GetOrder(ctx, liveSess, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.Equal(t, domain.OrderStatusFilled, mirror.orders[o.ID].Status)

	evs, err := f.events.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 2, "created plus the upstream fill")

	res, err = f.orders.Reconcile(ctx, liveSess)
	require.NoError(t, err)
	assert.Zero(t, res.Checked, "terminal orders are no longer reconciled")
}

func TestLiveReconcileSeedsFromMirrorAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mirror := &recordingMirror{}
	f.orders.WithMirror(mirror)

	o, err := f.orders.CreateOrder(ctx, liveSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)
	cache, err := f.orders.cacheFor(1)
	require.NoError(t, err)
	// A restart loses the cache; only the mirror remembers the order.
	cache.Invalidate(o.ID)
	f.agg.fill(o.ID, big.NewInt(1_000_000_000_000_000_000))

	f.orders.WithMirror(nil)
	res, err := f.orders.Reconcile(ctx, liveSess)
	require.NoError(t, err)
	assert.Zero(t, res.Checked, "nothing to walk without the mirror")

	f.orders.WithMirror(mirror)
	res, err = f.orders.Reconcile(ctx, liveSess)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, domain.OrderStatusFilled, mirror.orders[o.ID].Status)
}

func TestLiveListFallsBackToMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mirror := &recordingMirror{}
	f.orders.WithMirror(mirror)

	o, err := f.orders.CreateOrder(ctx, liveSess, f.request(oneEth, "3200000000", time.Hour))
	require.NoError(t, err)

	orders, err := f.orders.ListOrders(ctx, liveSess, domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	f.agg.listErr = domain.ErrTransientUpstream
	orders, err = f.orders.ListOrders(ctx, liveSess, domain.OrderFilter{Maker: maker})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o.ID, orders[0].ID)

	f.orders.WithMirror(nil)
	_, err = f.orders.ListOrders(ctx, liveSess, domain.OrderFilter{})
	assert.ErrorIs(t, err, domain.ErrTransientUpstream)
}
