package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/limitdesk/internal/cache/memory"
	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/registry"
	"github.com/alanyoungcy/limitdesk/internal/server/handler"
	"github.com/alanyoungcy/limitdesk/internal/server/middleware"
	"github.com/alanyoungcy/limitdesk/internal/server/ws"
	"github.com/alanyoungcy/limitdesk/internal/service"
	"github.com/alanyoungcy/limitdesk/internal/source"
	"github.com/alanyoungcy/limitdesk/internal/store/memory"
)

const (
	weth  = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdc  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	maker = "0x1111111111111111111111111111111111111111"
)

type countingLimiter struct {
	mu    sync.Mutex
	seen  map[string]int
	fail  error
	limit int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return false, l.fail
	}
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

type testEnv struct {
	handler http.Handler
	bus     *cachemem.SignalBus
	hub     *ws.Hub
}

func newEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := registry.NewCatalog([]int64{1}, registry.NewFileLoader(""), 0, logger)
	router := source.NewRouter([]int64{1},
		func(sess source.Session) (source.Adapter, error) {
			reg, err := catalog.For(sess.ChainID)
			if err != nil {
				return nil, err
			}
			return source.NewDemoAdapter(sess, source.NewGenerator(reg, 0, time.Now), 0), nil
		},
		nil,
	)
	bus := cachemem.NewSignalBus()
	orders := service.NewOrderService(router, service.CatalogTokens(catalog),
		memory.NewOrderTable(), memory.NewEventLog(), service.DefaultOrderConfig(), logger).WithBus(bus)
	markets := service.NewMarketService(router, catalog, orders, service.MarketConfig{}, logger)

	sessions := handler.Sessions{DefaultDemo: true}
	hub := ws.NewHub(bus, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	h := NewHandler(cfg, Handlers{
		Health: handler.NewHealthHandler(handler.HealthInfo{
			Mode:          "server",
			Chains:        []int64{1},
			LiveAvailable: router.LiveAvailable,
			Orders:        orders.Health,
		}, logger),
		Markets: handler.NewMarketHandler(markets, sessions, logger),
		Orders:  handler.NewOrderHandler(orders, sessions, logger),
	}, hub, logger)
	return &testEnv{handler: h, bus: bus, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type createdJSON struct {
	Success bool      `json:"success"`
	Order   orderJSON `json:"order"`
}

type orderJSON struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	MakingAmount    string `json:"makingAmount"`
	FilledAmount    string `json:"filledAmount"`
	RemainingAmount string `json:"remainingAmount"`
	Signature       string `json:"signature"`
}

func createBody(expiry int64) map[string]any {
	return map[string]any{
		"makerAsset":   weth,
		"takerAsset":   usdc,
		"makingAmount": "1000000000000000000",
		"takingAmount": "3200000000",
		"maker":        maker,
		"expiry":       expiry,
		"demo":         true,
	}
}

func TestHealth(t *testing.T) {
	env := newEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["live_available"])
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
	_, ok := body["polls"]
	assert.False(t, ok, "no publishers in this process")

	rec = env.do(t, http.MethodPost, "/api/1/orders", createBody(time.Now().Add(time.Hour).Unix()))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/api/health", nil)
	orders := decode[struct {
		Orders service.OrderHealth `json:"orders"`
	}](t, rec).Orders
	assert.Equal(t, 1, orders.DemoOrders)
	assert.Equal(t, 1, orders.Events)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	env := newEnv(t, Config{})
	expiry := time.Now().Add(24 * time.Hour).Unix()

	rec := env.do(t, http.MethodPost, "/api/1/orders", createBody(expiry))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	envelope := decode[createdJSON](t, rec)
	assert.True(t, envelope.Success)
	created := envelope.Order
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, "0", created.FilledAmount)
	assert.Equal(t, created.MakingAmount, created.RemainingAmount)
	assert.Empty(t, created.Signature, "demo orders are never signed")

	rec = env.do(t, http.MethodGet, "/api/1/orders/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[orderJSON](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/api/1/orders?maker="+maker+"&status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Orders []orderJSON `json:"orders"`
		Limit  int         `json:"limit"`
	}](t, rec)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, 50, list.Limit)

	rec = env.do(t, http.MethodDelete, "/api/1/orders/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[service.CancelResult](t, rec)
	assert.True(t, res.Cancelled)
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)

	rec = env.do(t, http.MethodDelete, "/api/1/orders/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[service.CancelResult](t, rec).Cancelled)

	rec = env.do(t, http.MethodGet, "/api/1/orders/"+created.ID, nil)
	assert.Equal(t, "cancelled", decode[orderJSON](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/api/1/orders/"+created.ID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	history := decode[struct {
		OrderID string              `json:"orderId"`
		Events  []domain.OrderEvent `json:"events"`
	}](t, rec)
	assert.Equal(t, created.ID, history.OrderID)
	require.Len(t, history.Events, 2)
	assert.Equal(t, domain.OrderEventCreated, history.Events[0].Type)
	assert.Equal(t, domain.OrderEventCancelled, history.Events[1].Type)

	rec = env.do(t, http.MethodGet, "/api/1/orders/0xdeadbeef/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The live session has no data source configured.
	rec = env.do(t, http.MethodGet, "/api/1/orders/"+created.ID+"?demo=false", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateOrderErrors(t *testing.T) {
	env := newEnv(t, Config{})
	expiry := time.Now().Add(time.Hour).Unix()

	body := createBody(expiry)
	body["takerAsset"] = weth
	rec := env.do(t, http.MethodPost, "/api/1/orders", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = createBody(expiry)
	body["makingAmount"] = "0"
	rec = env.do(t, http.MethodPost, "/api/1/orders", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "makingAmount", decode[map[string]string](t, rec)["field"])

	rec = env.do(t, http.MethodPost, "/api/137/orders", createBody(expiry))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unsupported chain")

	rec = env.do(t, http.MethodPost, "/api/abc/orders", createBody(expiry))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/1/orders", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = env.do(t, http.MethodGet, "/api/1/orders/0xdeadbeef", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/1/orders?status=open", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/1/orders?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepthEndpoint(t *testing.T) {
	env := newEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/api/1/depth?baseToken="+weth+"&quoteToken="+usdc+"&depth=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	depth := decode[domain.MarketDepth](t, rec)
	require.Len(t, depth.Bids, 10)
	require.Len(t, depth.Asks, 10)
	sum := decimal.Zero
	for _, l := range depth.Asks {
		sum = sum.Add(l.Total)
	}
	assert.True(t, sum.Equal(depth.TotalAskVolume))

	rec = env.do(t, http.MethodGet, "/api/1/depth?baseToken="+weth+"&quoteToken="+usdc+"&depth=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/1/depth?baseToken="+weth+"&quoteToken="+usdc+"&depth=201", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketEndpoints(t *testing.T) {
	env := newEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/api/1/orderbook?baseToken="+weth+"&quoteToken="+usdc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[domain.OrderBookSnapshot](t, rec)
	assert.Equal(t, "WETH/USDC", snap.Pair)
	require.NotEmpty(t, snap.Bids)
	assert.True(t, snap.Bids[0].Total.Equal(snap.Bids[0].Price.Mul(snap.Bids[0].Amount)))

	rec = env.do(t, http.MethodGet, "/api/1/orderbook?baseToken=nope&quoteToken="+usdc, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/1/pairs?q=weth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pairs := decode[service.PairsResponse](t, rec)
	assert.Len(t, pairs.Pairs, 2)
	assert.True(t, pairs.Meta.Fallback)

	rec = env.do(t, http.MethodGet, "/api/1/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := decode[service.TokensResponse](t, rec)
	assert.Equal(t, len(tokens.Tokens), tokens.Meta.TotalTokens)
	var addrs []string
	for _, tok := range tokens.Tokens {
		addrs = append(addrs, tok.Address)
	}
	assert.Contains(t, addrs, weth)
	assert.Contains(t, addrs, usdc)
	rec = env.do(t, http.MethodGet, "/api/abc/tokens", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/1/stats?baseToken="+weth, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/1/quote?sellToken="+weth+"&buyToken="+usdc+"&sellAmount=1000000000000000000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[service.QuoteResult](t, rec).BuyAmount)

	rec = env.do(t, http.MethodGet, "/api/1/pricing?sellToken="+weth+"&buyToken="+usdc+"&amount=1000000000000000000&slippage=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p struct {
		Strategies []struct {
			Name string `json:"name"`
		} `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Len(t, p.Strategies, 3)
	assert.Equal(t, "Conservative", p.Strategies[0].Name)

	rec = env.do(t, http.MethodGet, "/api/1/pricing?sellToken="+weth+"&buyToken="+usdc+"&amount=1&slippage=99", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthGuardsMutatingRoutes(t *testing.T) {
	env := newEnv(t, Config{APIKey: "s3cret"})
	expiry := time.Now().Add(time.Hour).Unix()

	rec := env.do(t, http.MethodPost, "/api/1/orders", createBody(expiry))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/1/orders", createBody(expiry), "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/1/orders", createBody(expiry), "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/1/orders", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay open")
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{}
	env := newEnv(t, Config{Limiter: limiter, RateLimit: 2, RateWindow: time.Minute})

	for range 2 {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/health", nil).Code)
	}
	rec := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// A different client has its own budget.
	rec = env.do(t, http.MethodGet, "/api/health", nil, "X-Forwarded-For", "10.0.0.9")
	assert.Equal(t, http.StatusOK, rec.Code)

	limiter.fail = errors.New("redis down")
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/health", nil).Code, "fails open")
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, Config{CORSOrigins: []string{"https://app.example"}})

	rec := env.do(t, http.MethodOptions, "/api/1/orders", nil,
		"Origin", "https://app.example", "Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodGet, "/api/health", nil, "Origin", "https://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebsocketStreamsOrderUpdates(t *testing.T) {
	env := newEnv(t, Config{})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?channels=" + domain.ChannelOrder
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type frame struct {
		Type    string          `json:"type"`
		Channel string          `json:"channel"`
		Payload json.RawMessage `json:"payload"`
	}
	read := func() frame {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}
	assert.Equal(t, "status", read().Type)
	sub := read()
	assert.Equal(t, "subscribed", sub.Type)
	assert.Equal(t, domain.ChannelOrder, sub.Channel)

	rec := env.do(t, http.MethodPost, "/api/1/orders", createBody(time.Now().Add(time.Hour).Unix()))
	require.Equal(t, http.StatusCreated, rec.Code)

	msg := read()
	assert.Equal(t, "message", msg.Type)
	var upd struct {
		Event string    `json:"event"`
		Demo  bool      `json:"demo"`
		Order orderJSON `json:"order"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &upd))
	assert.Equal(t, "created", upd.Event)
	assert.True(t, upd.Demo)
	assert.Equal(t, decode[createdJSON](t, rec).Order.ID, upd.Order.ID)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "channels": []string{"ch:secret"}}))
	assert.Equal(t, "error", read().Type)
}
