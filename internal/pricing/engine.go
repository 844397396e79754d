// Package pricing derives suggested limit prices, depth views and named
// pricing strategies from the latest market data of a session.
package pricing

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

// SnapshotFunc returns the current snapshot of pair. The market service
// supplies one that prefers its cache.
type SnapshotFunc func(ctx context.Context, pair domain.TokenPair) (domain.OrderBookSnapshot, error)

// DefaultSlippagePercent is used when the caller passes zero slippage.
var DefaultSlippagePercent = decimal.RequireFromString("0.5")

var maxSlippagePercent = decimal.NewFromInt(50)

// Engine prices orders for one session.
type Engine struct {
	adapter   source.Adapter
	tokens    source.TokenInfo
	snapshots SnapshotFunc
}

// NewEngine creates an Engine. A nil snapshots reads straight from the
// adapter.
func NewEngine(adapter source.Adapter, tokens source.TokenInfo, snapshots SnapshotFunc) *Engine {
	if snapshots == nil {
		snapshots = adapter.FetchSnapshot
	}
	return &Engine{adapter: adapter, tokens: tokens, snapshots: snapshots}
}

// Strategy is one named way to price the order.
type Strategy struct {
	Name string `json:"name"`
	// SuggestedPrice is buy-token units per sell-token unit.
	SuggestedPrice decimal.Decimal `json:"suggestedPrice"`
	// TakingAmount is what the order asks for at SuggestedPrice, in buy
	// token base units.
	TakingAmount string `json:"takingAmount"`
	// ExpectedFillTime is in seconds.
	ExpectedFillTime int64           `json:"expectedFillTime"`
	FillProbability  decimal.Decimal `json:"fillProbability"`
	// PriceImpact is the signed percent distance of SuggestedPrice from the
	// market price; positive favours the maker.
	PriceImpact decimal.Decimal `json:"priceImpact"`
}

// Pricing is the result of OptimalPricing.
type Pricing struct {
	SellToken       string          `json:"sellToken"`
	BuyToken        string          `json:"buyToken"`
	Amount          string          `json:"amount"`
	MarketPrice     decimal.Decimal `json:"marketPrice"`
	BookImpact      decimal.Decimal `json:"bookImpact"`
	SpreadPercent   decimal.Decimal `json:"spreadPercent"`
	Strategies      []Strategy      `json:"strategies"`
	Recommendations []string        `json:"recommendations"`
}

type request struct {
	sell, buy       string
	amount          *big.Int
	sellDec, buyDec int32
	sellSym, buySym string
}

func (e *Engine) validate(sell, buy string, amount *big.Int) (request, error) {
	var err error
	r := request{amount: amount}
	if r.sell, err = domain.ParseAddress("sellToken", sell); err != nil {
		return r, err
	}
	if r.buy, err = domain.ParseAddress("buyToken", buy); err != nil {
		return r, err
	}
	if r.sell == r.buy {
		return r, domain.Invalid("buyToken", "must differ from sellToken")
	}
	if amount == nil || amount.Sign() <= 0 {
		return r, domain.Invalid("amount", "must be positive")
	}
	if r.sellDec, err = e.tokens.Decimals(r.sell); err != nil {
		return r, domain.Invalid("sellToken", "unknown token "+r.sell)
	}
	if r.buyDec, err = e.tokens.Decimals(r.buy); err != nil {
		return r, domain.Invalid("buyToken", "unknown token "+r.buy)
	}
	r.sellSym = e.tokens.ResolveSymbol(r.sell)
	r.buySym = e.tokens.ResolveSymbol(r.buy)
	return r, nil
}

// SuggestPrice returns the current market rate for selling sellAmount of
// sellToken, in buy-token units per sell-token unit.
func (e *Engine) SuggestPrice(ctx context.Context, sellToken, buyToken string, sellAmount *big.Int) (decimal.Decimal, error) {
	r, err := e.validate(sellToken, buyToken, sellAmount)
	if err != nil {
		return decimal.Zero, err
	}
	q, err := e.adapter.FetchQuote(ctx, r.sell, r.buy, r.amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing: quote %s/%s: %w", r.sellSym, r.buySym, err)
	}
	return q.Price, nil
}

// OptimalPricing prices an order selling amount (base units) of sellToken
// for buyToken. slippagePercent shades the Conservative and Aggressive
// strategies away from the market price; zero uses the default.
func (e *Engine) OptimalPricing(ctx context.Context, sellToken, buyToken string, amount *big.Int, slippagePercent decimal.Decimal) (Pricing, error) {
	r, err := e.validate(sellToken, buyToken, amount)
	if err != nil {
		return Pricing{}, err
	}
	if slippagePercent.IsZero() {
		slippagePercent = DefaultSlippagePercent
	}
	if slippagePercent.IsNegative() || slippagePercent.GreaterThan(maxSlippagePercent) {
		return Pricing{}, domain.Invalid("slippage", "must be between 0 and 50 percent")
	}

	snap, err := e.snapshots(ctx, domain.TokenPair{BaseToken: r.sell, QuoteToken: r.buy})
	if err != nil {
		return Pricing{}, fmt.Errorf("pricing: snapshot %s/%s: %w", r.sellSym, r.buySym, err)
	}
	return Optimal(snap, r.sell, r.amount, r.sellDec, r.buyDec, slippagePercent)
}

// Base strategy parameters, ordered from most to least maker-favourable
// price. Fill probability falls and fill time shortens down the list.
var strategyTable = []struct {
	name      string
	shade     int // sign of the slippage shading
	prob      decimal.Decimal
	fillAfter time.Duration
}{
	{"Conservative", 1, decimal.RequireFromString("0.90"), 30 * time.Minute},
	{"Market", 0, decimal.RequireFromString("0.75"), 10 * time.Minute},
	{"Aggressive", -1, decimal.RequireFromString("0.55"), 2 * time.Minute},
}

// Optimal is OptimalPricing on an explicit snapshot. It is pure; snap may
// be in either orientation relative to sellToken.
func Optimal(snap domain.OrderBookSnapshot, sellToken string, amount *big.Int, sellDec, buyDec int32, slippagePercent decimal.Decimal) (Pricing, error) {
	snap = snap.Normalized()
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return Pricing{}, fmt.Errorf("pricing: %s: %w: empty book side", snap.Pair, domain.ErrNotFound)
	}
	if !snap.Bids[0].Price.IsPositive() || !snap.Asks[0].Price.IsPositive() || !snap.Stats.MidPrice.IsPositive() {
		return Pricing{}, fmt.Errorf("pricing: %s: %w", snap.Pair, domain.Invalid("book", "best bid and ask must be positive"))
	}
	sellIsBase := domain.SameAddress(snap.BaseToken, sellToken)
	qty := decimal.NewFromBigInt(amount, -sellDec)

	mid := snap.Stats.MidPrice
	market := mid
	buyToken := snap.QuoteToken
	if !sellIsBase {
		market = decimal.NewFromInt(1).DivRound(mid, 18)
		buyToken = snap.BaseToken
	}
	market = roundPrice(market)

	impact, filled := walk(snap, sellIsBase, qty)

	// Impact lowers every probability by the same amount and stretches every
	// fill time by the same factor, so the strategy ordering is preserved.
	penalty := decimal.Min(impact, decimal.RequireFromString("0.5")).Div(decimal.NewFromInt(2))
	stretch := decimal.NewFromInt(1).Add(impact.Mul(decimal.NewFromInt(4))).
		Add(snap.Stats.SpreadPercent.Div(decimal.NewFromInt(10)))
	shade := slippagePercent.Div(decimal.NewFromInt(100))

	out := Pricing{
		SellToken:     sellToken,
		BuyToken:      buyToken,
		Amount:        amount.String(),
		MarketPrice:   market,
		BookImpact:    impact.Mul(decimal.NewFromInt(100)).Round(4),
		SpreadPercent: snap.Stats.SpreadPercent,
	}
	for _, row := range strategyTable {
		factor := decimal.NewFromInt(1).Add(shade.Mul(decimal.NewFromInt(int64(row.shade))))
		price := roundPrice(market.Mul(factor))
		taking := qty.Mul(price).Shift(buyDec).Floor()
		secs := decimal.NewFromFloat(row.fillAfter.Seconds()).Mul(stretch).Ceil().IntPart()
		out.Strategies = append(out.Strategies, Strategy{
			Name:             row.name,
			SuggestedPrice:   price,
			TakingAmount:     taking.BigInt().String(),
			ExpectedFillTime: secs,
			FillProbability:  row.prob.Sub(penalty).Round(4),
			PriceImpact:      price.Sub(market).Div(market).Mul(decimal.NewFromInt(100)).Round(4),
		})
	}
	out.Recommendations = recommend(snap, impact, filled, slippagePercent)
	return out, nil
}

// walk sells qty of the sell token into the book and returns the relative
// price impact of the volume-weighted fill against the best price, plus
// whether the book could absorb the whole quantity. Selling the base walks
// the bids; selling the quote buys base from the asks.
func walk(snap domain.OrderBookSnapshot, sellIsBase bool, qty decimal.Decimal) (decimal.Decimal, bool) {
	remaining := qty
	// got is what the taker side pays out; spent is what was sold.
	got, spent := decimal.Zero, decimal.Zero
	if sellIsBase {
		for _, b := range snap.Bids {
			if !remaining.IsPositive() {
				break
			}
			take := decimal.Min(remaining, b.Amount)
			got = got.Add(take.Mul(b.Price))
			spent = spent.Add(take)
			remaining = remaining.Sub(take)
		}
		if spent.IsZero() {
			return decimal.NewFromInt(1), false
		}
		best := snap.Bids[0].Price
		avg := got.Div(spent)
		return best.Sub(avg).Div(best).Abs(), !remaining.IsPositive()
	}
	for _, a := range snap.Asks {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, a.Total)
		got = got.Add(take.DivRound(a.Price, 18))
		spent = spent.Add(take)
		remaining = remaining.Sub(take)
	}
	if got.IsZero() {
		return decimal.NewFromInt(1), false
	}
	best := snap.Asks[0].Price
	avg := spent.DivRound(got, 18)
	return avg.Sub(best).Div(best).Abs(), !remaining.IsPositive()
}

var (
	wideSpreadPercent = decimal.NewFromInt(1)
	highImpact        = decimal.RequireFromString("0.01")
)

func recommend(snap domain.OrderBookSnapshot, impact decimal.Decimal, filled bool, slippagePercent decimal.Decimal) []string {
	var recs []string
	if !filled {
		recs = append(recs, "Visible liquidity cannot absorb this amount; a limit order will rest until the market moves or new liquidity arrives.")
	}
	if impact.GreaterThanOrEqual(highImpact) {
		recs = append(recs, fmt.Sprintf("This size moves the book by %s%%; consider splitting it into smaller orders.",
			impact.Mul(decimal.NewFromInt(100)).StringFixed(2)))
	}
	if snap.Stats.SpreadPercent.GreaterThanOrEqual(wideSpreadPercent) {
		recs = append(recs, fmt.Sprintf("The spread is wide (%s%%); the Conservative price is likely to fill inside it.",
			snap.Stats.SpreadPercent.StringFixed(2)))
	}
	if slippagePercent.GreaterThan(decimal.NewFromInt(5)) {
		recs = append(recs, "Slippage above 5% prices the Aggressive strategy far below market.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Market conditions are normal; the Market strategy balances price and fill speed.")
	}
	return recs
}

// roundPrice keeps about eight significant digits.
func roundPrice(p decimal.Decimal) decimal.Decimal {
	a := p.Abs()
	if a.IsZero() {
		return p
	}
	places := int32(8)
	if a.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		digits := int32(len(a.Truncate(0).String()))
		places = max(2, 9-digits)
	} else {
		ten := decimal.NewFromInt(10)
		for a.LessThan(decimal.NewFromInt(1)) && places < 18 {
			a = a.Mul(ten)
			places++
		}
	}
	return p.Round(places)
}
