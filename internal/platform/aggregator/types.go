package aggregator

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// --------------------------------------------------------------------------
// Aggregator API DTOs
// --------------------------------------------------------------------------

// APIEntry is one resting order on the aggregator book.
type APIEntry struct {
	ID        string `json:"id"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Maker     string `json:"maker"`
	Timestamp int64  `json:"timestamp"` // unix seconds
	FillCount int    `json:"fillCount"`
}

// APITrade is an executed trade.
type APITrade struct {
	ID        string `json:"id"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Side      string `json:"side"`
	Timestamp int64  `json:"timestamp"`
	TxHash    string `json:"txHash"`
}

// APIOrderBook is the orderbook endpoint payload. Totals are not part of
// the payload; they are derived locally.
type APIOrderBook struct {
	Pair         string     `json:"pair"`
	Bids         []APIEntry `json:"bids"`
	Asks         []APIEntry `json:"asks"`
	RecentTrades []APITrade `json:"recentTrades"`
	Stats        struct {
		Volume24h      string `json:"volume24h"`
		PriceChange24h string `json:"priceChange24h"`
		High24h        string `json:"high24h"`
		Low24h         string `json:"low24h"`
	} `json:"stats"`
}

// APIQuote is the quote endpoint payload.
type APIQuote struct {
	SellToken  string `json:"sellToken"`
	BuyToken   string `json:"buyToken"`
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	Price      string `json:"price"`
}

// APIOrderResult wraps order submission and lookup responses.
type APIOrderResult struct {
	Success  bool              `json:"success"`
	ErrorMsg string            `json:"errorMsg,omitempty"`
	Order    domain.LimitOrder `json:"order"`
}

// APIEvent is an order lifecycle event.
type APIEvent struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	OrderID      string `json:"orderId"`
	BlockNumber  uint64 `json:"blockNumber"`
	Timestamp    int64  `json:"timestamp"`
	FilledAmount string `json:"filledAmount,omitempty"`
}

// APIPair is one advertised pair.
type APIPair struct {
	BaseToken  string `json:"baseToken"`
	QuoteToken string `json:"quoteToken"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("aggregator: malformed %s %q: %w", field, s, err)
	}
	return d, nil
}

func (e APIEntry) toDomain() (domain.OrderBookEntry, error) {
	price, err := parseDecimal("price", e.Price)
	if err != nil {
		return domain.OrderBookEntry{}, err
	}
	amount, err := parseDecimal("amount", e.Amount)
	if err != nil {
		return domain.OrderBookEntry{}, err
	}
	if price.IsNegative() || amount.IsNegative() {
		return domain.OrderBookEntry{}, fmt.Errorf("aggregator: negative price or amount in entry %q", e.ID)
	}
	return domain.OrderBookEntry{
		ID:        e.ID,
		Price:     price,
		Amount:    amount,
		Maker:     e.Maker,
		Timestamp: time.Unix(e.Timestamp, 0).UTC(),
		FillCount: e.FillCount,
	}, nil
}

// ToDomain converts the payload into a snapshot. The caller stamps the
// chain, tokens and capture time.
func (b APIOrderBook) ToDomain() (domain.OrderBookSnapshot, error) {
	snap := domain.OrderBookSnapshot{
		Pair: b.Pair,
		Bids: make([]domain.OrderBookEntry, 0, len(b.Bids)),
		Asks: make([]domain.OrderBookEntry, 0, len(b.Asks)),
	}
	for _, e := range b.Bids {
		de, err := e.toDomain()
		if err != nil {
			return domain.OrderBookSnapshot{}, err
		}
		snap.Bids = append(snap.Bids, de)
	}
	for _, e := range b.Asks {
		de, err := e.toDomain()
		if err != nil {
			return domain.OrderBookSnapshot{}, err
		}
		snap.Asks = append(snap.Asks, de)
	}
	for _, tr := range b.RecentTrades {
		price, err := parseDecimal("trade price", tr.Price)
		if err != nil {
			return domain.OrderBookSnapshot{}, err
		}
		amount, err := parseDecimal("trade amount", tr.Amount)
		if err != nil {
			return domain.OrderBookSnapshot{}, err
		}
		snap.RecentTrades = append(snap.RecentTrades, domain.Trade{
			ID:        tr.ID,
			Price:     price,
			Amount:    amount,
			Side:      domain.TradeSide(tr.Side),
			Timestamp: time.Unix(tr.Timestamp, 0).UTC(),
			TxHash:    tr.TxHash,
		})
	}

	var err error
	st := &snap.Stats
	for _, f := range []struct {
		name string
		in   string
		out  *decimal.Decimal
	}{
		{"volume24h", b.Stats.Volume24h, &st.Volume24h},
		{"priceChange24h", b.Stats.PriceChange24h, &st.PriceChange24h},
		{"high24h", b.Stats.High24h, &st.High24h},
		{"low24h", b.Stats.Low24h, &st.Low24h},
	} {
		if *f.out, err = parseDecimal(f.name, f.in); err != nil {
			return domain.OrderBookSnapshot{}, err
		}
	}
	return snap, nil
}

// ToDomain converts the quote payload.
func (q APIQuote) ToDomain(now time.Time) (domain.Quote, error) {
	price, err := parseDecimal("price", q.Price)
	if err != nil {
		return domain.Quote{}, err
	}
	if _, ok := new(big.Int).SetString(q.BuyAmount, 10); !ok {
		return domain.Quote{}, fmt.Errorf("aggregator: malformed buyAmount %q", q.BuyAmount)
	}
	return domain.Quote{
		SellToken:  q.SellToken,
		BuyToken:   q.BuyToken,
		SellAmount: q.SellAmount,
		BuyAmount:  q.BuyAmount,
		Price:      price,
		QuotedAt:   now,
	}, nil
}

// ToDomain converts the event payload.
func (e APIEvent) ToDomain() domain.OrderEvent {
	id := e.ID
	if id == "" {
		id = e.OrderID + ":" + e.Type + ":" + strconv.FormatUint(e.BlockNumber, 10) + ":" + e.FilledAmount
	}
	return domain.OrderEvent{
		ID:           id,
		Type:         domain.OrderEventType(e.Type),
		OrderID:      e.OrderID,
		BlockNumber:  e.BlockNumber,
		Timestamp:    time.Unix(e.Timestamp, 0).UTC(),
		FilledAmount: e.FilledAmount,
	}
}
