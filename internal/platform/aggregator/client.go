// Package aggregator is the REST client for the external order aggregator
// that holds the authoritative order book and order records.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/crypto"
	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/registry"
)

// maxErrorBody caps how much of an error response is echoed into errors.
const maxErrorBody = 512

// Client talks to the aggregator's /v1/{chainId} API. Per-attempt timeouts
// come from the caller's context; the http.Client timeout is only a backstop.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	now        func() time.Time
}

// NewClient creates a client for baseURL, e.g. "https://api.aggregator.example".
// auth may be nil for unauthenticated access.
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth: auth,
		now:  time.Now,
	}
}

func chainPath(chainID int64, suffix string) string {
	return "/v1/" + strconv.FormatInt(chainID, 10) + suffix
}

// OrderBook fetches the book for pair.
func (c *Client) OrderBook(ctx context.Context, chainID int64, pair domain.TokenPair) (domain.OrderBookSnapshot, error) {
	q := url.Values{}
	q.Set("baseToken", pair.BaseToken)
	q.Set("quoteToken", pair.QuoteToken)

	body, err := c.do(ctx, http.MethodGet, chainPath(chainID, "/orderbook"), q, nil)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("aggregator: orderbook %s: %w", pair.Key(), err)
	}
	var book APIOrderBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("aggregator: decode orderbook: %w", err)
	}
	return book.ToDomain()
}

// Quote prices sellAmount of sellToken in buyToken.
func (c *Client) Quote(ctx context.Context, chainID int64, sellToken, buyToken string, sellAmount *big.Int) (domain.Quote, error) {
	q := url.Values{}
	q.Set("sellToken", sellToken)
	q.Set("buyToken", buyToken)
	q.Set("sellAmount", sellAmount.String())

	body, err := c.do(ctx, http.MethodGet, chainPath(chainID, "/quote"), q, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("aggregator: quote: %w", err)
	}
	var quote APIQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return domain.Quote{}, fmt.Errorf("aggregator: decode quote: %w", err)
	}
	return quote.ToDomain(c.now())
}

// SubmitOrder posts a (signed) order and returns the upstream record.
func (c *Client) SubmitOrder(ctx context.Context, order domain.LimitOrder) (domain.LimitOrder, error) {
	body, err := c.do(ctx, http.MethodPost, chainPath(order.ChainID, "/orders"), nil, order)
	if err != nil {
		return domain.LimitOrder{}, fmt.Errorf("aggregator: submit order: %w", err)
	}
	var res APIOrderResult
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.LimitOrder{}, fmt.Errorf("aggregator: decode order result: %w", err)
	}
	if !res.Success {
		return domain.LimitOrder{}, fmt.Errorf("aggregator: order rejected: %w", domain.Invalid("", res.ErrorMsg))
	}
	return res.Order, nil
}

// CancelOrder cancels id upstream.
func (c *Client) CancelOrder(ctx context.Context, chainID int64, id string) error {
	body, err := c.do(ctx, http.MethodDelete, chainPath(chainID, "/orders/"+url.PathEscape(id)), nil, nil)
	if err != nil {
		return fmt.Errorf("aggregator: cancel order %s: %w", id, err)
	}
	var res struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("aggregator: decode cancel response: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("aggregator: cancel rejected: %w", domain.Invalid("", res.ErrorMsg))
	}
	return nil
}

// GetOrder fetches the upstream record of id.
func (c *Client) GetOrder(ctx context.Context, chainID int64, id string) (domain.LimitOrder, error) {
	body, err := c.do(ctx, http.MethodGet, chainPath(chainID, "/orders/"+url.PathEscape(id)), nil, nil)
	if err != nil {
		return domain.LimitOrder{}, fmt.Errorf("aggregator: get order %s: %w", id, err)
	}
	var res APIOrderResult
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.LimitOrder{}, fmt.Errorf("aggregator: decode order: %w", err)
	}
	return res.Order, nil
}

// ListOrders lists upstream orders for a maker.
func (c *Client) ListOrders(ctx context.Context, chainID int64, f domain.OrderFilter) ([]domain.LimitOrder, error) {
	q := url.Values{}
	if f.Maker != "" {
		q.Set("maker", f.Maker)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	body, err := c.do(ctx, http.MethodGet, chainPath(chainID, "/orders"), q, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregator: list orders: %w", err)
	}
	var res struct {
		Orders []domain.LimitOrder `json:"orders"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("aggregator: decode orders: %w", err)
	}
	return res.Orders, nil
}

// OrderEvents returns the lifecycle events recorded for id.
func (c *Client) OrderEvents(ctx context.Context, chainID int64, id string) ([]domain.OrderEvent, error) {
	body, err := c.do(ctx, http.MethodGet, chainPath(chainID, "/orders/"+url.PathEscape(id)+"/events"), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregator: order events %s: %w", id, err)
	}
	var res struct {
		Events []APIEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("aggregator: decode events: %w", err)
	}
	out := make([]domain.OrderEvent, 0, len(res.Events))
	for _, e := range res.Events {
		out = append(out, e.ToDomain())
	}
	return out, nil
}

// Load implements registry.Loader from the tokens and pairs endpoints.
func (c *Client) Load(ctx context.Context, chainID int64) (registry.Listing, error) {
	tokensBody, err := c.do(ctx, http.MethodGet, chainPath(chainID, "/tokens"), nil, nil)
	if err != nil {
		return registry.Listing{}, fmt.Errorf("aggregator: tokens: %w", err)
	}
	var tokens struct {
		Tokens []domain.Token `json:"tokens"`
	}
	if err := json.Unmarshal(tokensBody, &tokens); err != nil {
		return registry.Listing{}, fmt.Errorf("aggregator: decode tokens: %w", err)
	}

	pairsBody, err := c.do(ctx, http.MethodGet, chainPath(chainID, "/pairs"), nil, nil)
	if err != nil {
		return registry.Listing{}, fmt.Errorf("aggregator: pairs: %w", err)
	}
	var pairs struct {
		Pairs []APIPair `json:"pairs"`
	}
	if err := json.Unmarshal(pairsBody, &pairs); err != nil {
		return registry.Listing{}, fmt.Errorf("aggregator: decode pairs: %w", err)
	}

	out := registry.Listing{Tokens: tokens.Tokens}
	for _, p := range pairs.Pairs {
		out.Pairs = append(out.Pairs, domain.TokenPair{BaseToken: p.BaseToken, QuoteToken: p.QuoteToken})
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, authenticates, sends and reads one request and returns the raw
// response body. Transport failures are reported as transient.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("http request: %w", ctx.Err())
		}
		return nil, fmt.Errorf("http request: %w: %w", domain.ErrTransientUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", domain.ErrTransientUpstream, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	var apiErr struct {
		Error    string `json:"error"`
		ErrorMsg string `json:"errorMsg"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		if apiErr.Error != "" {
			msg = apiErr.Error
		} else if apiErr.ErrorMsg != "" {
			msg = apiErr.ErrorMsg
		}
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return domain.Invalid("", msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransientUpstream, statusCode, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
