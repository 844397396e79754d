package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the aggressor side of a recorded trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// OrderBookEntry is a single resting order on one side of the book.
type OrderBookEntry struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Total     decimal.Decimal `json:"total"`
	Maker     string          `json:"maker"`
	Timestamp time.Time       `json:"timestamp"`
	FillCount int             `json:"fillCount"`
}

// Trade is an executed trade. Values are never mutated once recorded.
type Trade struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Side      TradeSide       `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
	TxHash    string          `json:"txHash"`
}

// SnapshotStats summarises a snapshot. The 24h fields come from the data
// source; the best/spread/total fields are derived from the ladder.
type SnapshotStats struct {
	BestBid        decimal.Decimal `json:"bestBid"`
	BestAsk        decimal.Decimal `json:"bestAsk"`
	Spread         decimal.Decimal `json:"spread"`
	SpreadPercent  decimal.Decimal `json:"spreadPercent"`
	MidPrice       decimal.Decimal `json:"midPrice"`
	TotalBidVolume decimal.Decimal `json:"totalBidVolume"`
	TotalAskVolume decimal.Decimal `json:"totalAskVolume"`
	Volume24h      decimal.Decimal `json:"volume24h"`
	PriceChange24h decimal.Decimal `json:"priceChange24h"`
	High24h        decimal.Decimal `json:"high24h"`
	Low24h         decimal.Decimal `json:"low24h"`
}

// OrderBookSnapshot is an immutable point-in-time view of one market. A new
// value is built for every poll; consumers never modify a delivered snapshot.
type OrderBookSnapshot struct {
	Pair         string           `json:"pair"`
	ChainID      int64            `json:"chainId"`
	BaseToken    string           `json:"baseToken"`
	QuoteToken   string           `json:"quoteToken"`
	Bids         []OrderBookEntry `json:"bids"`
	Asks         []OrderBookEntry `json:"asks"`
	RecentTrades []Trade          `json:"recentTrades"`
	Stats        SnapshotStats    `json:"stats"`
	CapturedAt   time.Time        `json:"capturedAt"`
}

// TokenPair returns the pair the snapshot was captured for.
func (s OrderBookSnapshot) TokenPair() TokenPair {
	return TokenPair{BaseToken: s.BaseToken, QuoteToken: s.QuoteToken, Symbol: s.Pair}
}

// Normalized returns a copy of s with every entry total recomputed as
// price*amount, bids sorted by descending price, asks by ascending price and
// the ladder-derived stats refreshed. The receiver's slices are not touched.
func (s OrderBookSnapshot) Normalized() OrderBookSnapshot {
	out := s
	out.Bids = normalizeSide(s.Bids, true)
	out.Asks = normalizeSide(s.Asks, false)
	if s.RecentTrades != nil {
		out.RecentTrades = append([]Trade(nil), s.RecentTrades...)
	}
	out.Stats = deriveStats(out.Bids, out.Asks, s.Stats)
	return out
}

func normalizeSide(entries []OrderBookEntry, descending bool) []OrderBookEntry {
	out := make([]OrderBookEntry, len(entries))
	copy(out, entries)
	for i := range out {
		out[i].Total = out[i].Price.Mul(out[i].Amount)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

var hundred = decimal.NewFromInt(100)

func deriveStats(bids, asks []OrderBookEntry, upstream SnapshotStats) SnapshotStats {
	st := upstream
	st.BestBid = decimal.Zero
	st.BestAsk = decimal.Zero
	st.Spread = decimal.Zero
	st.SpreadPercent = decimal.Zero
	st.MidPrice = decimal.Zero
	st.TotalBidVolume = sumTotals(bids)
	st.TotalAskVolume = sumTotals(asks)

	if len(bids) > 0 {
		st.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		st.BestAsk = asks[0].Price
	}
	if len(bids) > 0 && len(asks) > 0 {
		st.Spread = st.BestAsk.Sub(st.BestBid)
		st.MidPrice = st.BestBid.Add(st.BestAsk).Div(decimal.NewFromInt(2))
		if st.BestBid.IsPositive() {
			st.SpreadPercent = st.Spread.Div(st.BestBid).Mul(hundred).Round(4)
		}
	}
	return st
}

func sumTotals(entries []OrderBookEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Total)
	}
	return sum
}

// DepthLevel is one aggregated price level of a depth view.
type DepthLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Total  decimal.Decimal `json:"total"`
	Count  int             `json:"count"`
}

// MarketDepth is the aggregated view of the first N price levels per side.
type MarketDepth struct {
	Pair           string          `json:"pair"`
	MarketPrice    decimal.Decimal `json:"marketPrice"`
	TotalBidVolume decimal.Decimal `json:"totalBidVolume"`
	TotalAskVolume decimal.Decimal `json:"totalAskVolume"`
	Bids           []DepthLevel    `json:"bids"`
	Asks           []DepthLevel    `json:"asks"`
}

// Quote is a point price estimate for swapping SellAmount of SellToken.
// Amounts are in base units of their own token; Price is buy-token display
// units per sell-token display unit.
type Quote struct {
	SellToken  string          `json:"sellToken"`
	BuyToken   string          `json:"buyToken"`
	SellAmount string          `json:"sellAmount"`
	BuyAmount  string          `json:"buyAmount"`
	Price      decimal.Decimal `json:"price"`
	QuotedAt   time.Time       `json:"quotedAt"`
}
