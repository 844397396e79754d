package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/limitdesk/internal/cache/memory"
	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/registry"
	"github.com/alanyoungcy/limitdesk/internal/source"
	"github.com/alanyoungcy/limitdesk/internal/store/memory"
)

const (
	weth  = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdc  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	usdt  = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	maker = "0x1111111111111111111111111111111111111111"

	signerKey      = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	signerAddress  = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	signerContract = "0x111111125421cA6dc452d289314280a0f8842A65"
)

var (
	demoSess = source.Session{ChainID: 1, Demo: true}
	liveSess = source.Session{ChainID: 1}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeAggregator is an in-memory upstream for live sessions.
type fakeAggregator struct {
	mu        sync.Mutex
	orders    map[string]domain.LimitOrder
	events    map[string][]domain.OrderEvent
	submitted []domain.LimitOrder
	cancels   int
	gets      int
	book      domain.OrderBookSnapshot
	bookErr   error
	listErr   error
}

func newFakeAggregator() *fakeAggregator {
	return &fakeAggregator{
		orders: make(map[string]domain.LimitOrder),
		events: make(map[string][]domain.OrderEvent),
	}
}

func (f *fakeAggregator) OrderBook(context.Context, int64, domain.TokenPair) (domain.OrderBookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookErr != nil {
		return domain.OrderBookSnapshot{}, f.bookErr
	}
	return f.book, nil
}

func (f *fakeAggregator) Quote(context.Context, int64, string, string, *big.Int) (domain.Quote, error) {
	return domain.Quote{Price: decimal.NewFromInt(3200)}, nil
}

func (f *fakeAggregator) SubmitOrder(_ context.Context, o domain.LimitOrder) (domain.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, o.Clone())
	f.orders[o.ID] = o.Clone()
	return domain.LimitOrder{ID: o.ID, Status: domain.OrderStatusActive}, nil
}

func (f *fakeAggregator) CancelOrder(_ context.Context, _ int64, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	o, ok := f.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	o.Status = domain.OrderStatusCancelled
	f.orders[id] = o
	return nil
}

func (f *fakeAggregator) GetOrder(_ context.Context, _ int64, id string) (domain.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	o, ok := f.orders[id]
	if !ok {
		return domain.LimitOrder{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o.Clone(), nil
}

func (f *fakeAggregator) ListOrders(_ context.Context, _ int64, filter domain.OrderFilter) ([]domain.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.LimitOrder
	for _, o := range f.orders {
		if memory.Matches(o, filter) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (f *fakeAggregator) OrderEvents(_ context.Context, _ int64, id string) ([]domain.OrderEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id], nil
}

func (f *fakeAggregator) fill(id string, cumulative *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	o.ApplyFill(cumulative)
	f.orders[id] = o
	f.events[id] = append(f.events[id], domain.OrderEvent{
		ID: id + ":up-fill", Type: domain.OrderEventFilled, OrderID: id, FilledAmount: cumulative.String(),
	})
}

type recordingMirror struct {
	mu      sync.Mutex
	orders  map[string]domain.LimitOrder
	upserts int
}

func (m *recordingMirror) Upsert(_ context.Context, o domain.LimitOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders == nil {
		m.orders = make(map[string]domain.LimitOrder)
	}
	m.orders[o.ID] = o.Clone()
	m.upserts++
	return nil
}

func (m *recordingMirror) List(_ context.Context, f domain.OrderFilter) ([]domain.LimitOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LimitOrder
	for _, o := range m.orders {
		if memory.Matches(o, f) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

type captureArchiver struct {
	batches [][]domain.LimitOrder
	err     error
}

func (a *captureArchiver) ArchiveOrders(_ context.Context, orders []domain.LimitOrder) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.batches = append(a.batches, orders)
	return "archive/orders/test.jsonl", nil
}

type fixture struct {
	orders *OrderService
	market *MarketService
	table  *memory.OrderTable
	events *memory.EventLog
	bus    *cachemem.SignalBus
	cache  *cachemem.SnapshotCache
	agg    *fakeAggregator
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	catalog := registry.NewCatalog([]int64{1}, registry.NewFileLoader(""), 0, logger)
	agg := newFakeAggregator()

	router := source.NewRouter([]int64{1},
		func(sess source.Session) (source.Adapter, error) {
			reg, err := catalog.For(sess.ChainID)
			if err != nil {
				return nil, err
			}
			return source.NewDemoAdapter(sess, source.NewGenerator(reg, 0, clk.Now), 0), nil
		},
		func(sess source.Session) (source.Adapter, error) {
			return source.NewLiveAdapter(sess, agg, source.Policy{Attempts: 1, BaseTimeout: time.Second}, logger), nil
		},
	)

	f := &fixture{
		table:  memory.NewOrderTable(),
		events: memory.NewEventLog(),
		bus:    cachemem.NewSignalBus(),
		cache:  cachemem.NewSnapshotCache(),
		agg:    agg,
		clock:  clk,
	}
	f.orders = NewOrderService(router, CatalogTokens(catalog), f.table, f.events, DefaultOrderConfig(), logger).
		WithBus(f.bus)
	f.orders.now = clk.Now
	f.market = NewMarketService(router, catalog, f.orders, MarketConfig{}, logger).WithCache(f.cache)
	f.market.now = clk.Now
	return f
}

func (f *fixture) request(making, taking string, ttl time.Duration) CreateOrderRequest {
	return CreateOrderRequest{
		MakerAsset:   weth,
		TakerAsset:   usdc,
		MakingAmount: making,
		TakingAmount: taking,
		Maker:        maker,
		Expiry:       f.clock.Now().Add(ttl).Unix(),
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireUpdate(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		require.FailNow(t, "no order update published")
		return nil
	}
}
