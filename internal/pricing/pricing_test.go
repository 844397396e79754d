package pricing

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

const (
	weth = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdc = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

type tokens map[string]struct {
	sym string
	dec int32
}

func (t tokens) ResolveSymbol(addr string) string {
	if v, ok := t[strings.ToLower(addr)]; ok {
		return v.sym
	}
	return domain.UnknownSymbol
}

func (t tokens) Decimals(addr string) (int32, error) {
	if v, ok := t[strings.ToLower(addr)]; ok {
		return v.dec, nil
	}
	return 0, domain.ErrNotFound
}

var testTokens = tokens{
	weth: {"WETH", 18},
	usdc: {"USDC", 6},
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func entry(price, amount string) domain.OrderBookEntry {
	return domain.OrderBookEntry{Price: d(price), Amount: d(amount)}
}

// WETH/USDC book, mid 3200.
func handBook() domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Pair: "WETH/USDC", BaseToken: weth, QuoteToken: usdc,
		Bids: []domain.OrderBookEntry{
			entry("3199", "1"), entry("3199", "0.5"), entry("3198", "2"), entry("3190", "10"),
		},
		Asks: []domain.OrderBookEntry{
			entry("3201", "1"), entry("3202", "2"), entry("3202", "1"), entry("3210", "10"),
		},
	}
}

func TestMarketDepthGroupsAndLimits(t *testing.T) {
	depth := MarketDepth(handBook(), 2)
	require.Len(t, depth.Bids, 2)
	require.Len(t, depth.Asks, 2)

	assert.True(t, depth.Bids[0].Price.Equal(d("3199")))
	assert.Equal(t, 2, depth.Bids[0].Count)
	assert.True(t, depth.Bids[0].Amount.Equal(d("1.5")))
	assert.True(t, depth.Asks[1].Total.Equal(d("9606")))
	assert.Equal(t, 2, depth.Asks[1].Count)

	assert.True(t, depth.TotalBidVolume.Equal(d("4798.5").Add(d("6396"))))
	assert.True(t, depth.MarketPrice.Equal(d("3200")))

	all := MarketDepth(handBook(), 0)
	assert.Len(t, all.Bids, 3)
}

func TestMarketDepthTenLevelsOnSyntheticBook(t *testing.T) {
	gen := source.NewGenerator(testTokens, source.DefaultSyntheticLevels, time.Now)
	snap := gen.Snapshot(1, domain.TokenPair{BaseToken: weth, QuoteToken: usdc, Symbol: "WETH/USDC"})

	depth := MarketDepth(snap, 10)
	require.Len(t, depth.Bids, 10)
	require.Len(t, depth.Asks, 10)

	sum := decimal.Zero
	for _, l := range depth.Bids {
		sum = sum.Add(l.Total)
	}
	assert.True(t, sum.Equal(depth.TotalBidVolume))
}

func TestOptimalStrategyOrdering(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	for _, amount := range []*big.Int{big.NewInt(1), oneEth, new(big.Int).Mul(oneEth, big.NewInt(1000))} {
		p, err := Optimal(handBook(), weth, amount, 18, 6, d("1"))
		require.NoError(t, err)
		require.Len(t, p.Strategies, 3)

		cons, mkt, aggr := p.Strategies[0], p.Strategies[1], p.Strategies[2]
		assert.Equal(t, "Conservative", cons.Name)
		assert.Equal(t, "Market", mkt.Name)
		assert.Equal(t, "Aggressive", aggr.Name)

		assert.True(t, aggr.FillProbability.LessThan(mkt.FillProbability))
		assert.True(t, mkt.FillProbability.LessThan(cons.FillProbability))
		assert.LessOrEqual(t, aggr.ExpectedFillTime, mkt.ExpectedFillTime)
		assert.LessOrEqual(t, mkt.ExpectedFillTime, cons.ExpectedFillTime)

		assert.True(t, cons.SuggestedPrice.GreaterThan(mkt.SuggestedPrice))
		assert.True(t, aggr.SuggestedPrice.LessThan(mkt.SuggestedPrice))
		assert.True(t, mkt.PriceImpact.IsZero())
		assert.NotEmpty(t, p.Recommendations)
	}
}

func TestOptimalScalesPerAssetDecimals(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	p, err := Optimal(handBook(), weth, oneEth, 18, 6, d("1"))
	require.NoError(t, err)
	assert.True(t, p.MarketPrice.Equal(d("3200")))
	// 1 WETH at 3200 USDC with six decimals.
	assert.Equal(t, "3200000000", p.Strategies[1].TakingAmount)
	assert.Equal(t, "3232000000", p.Strategies[0].TakingAmount)

	// Selling USDC for WETH reads the same book inverted.
	p, err = Optimal(handBook(), usdc, big.NewInt(3200_000000), 6, 18, d("1"))
	require.NoError(t, err)
	assert.Equal(t, weth, p.BuyToken)
	assert.True(t, p.MarketPrice.Equal(d("0.0003125")), p.MarketPrice.String())
	assert.Equal(t, "1000000000000000000", p.Strategies[1].TakingAmount)
}

func TestOptimalBookImpact(t *testing.T) {
	small, err := Optimal(handBook(), weth, big.NewInt(1_000_000_000_000_000), 18, 6, d("1"))
	require.NoError(t, err)
	assert.True(t, small.BookImpact.IsZero())

	tenEth := new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	big10, err := Optimal(handBook(), weth, tenEth, 18, 6, d("1"))
	require.NoError(t, err)
	assert.True(t, big10.BookImpact.IsPositive())
	assert.True(t, big10.Strategies[0].FillProbability.LessThan(small.Strategies[0].FillProbability))

	huge := new(big.Int).Mul(tenEth, big.NewInt(100))
	thin, err := Optimal(handBook(), weth, huge, 18, 6, d("1"))
	require.NoError(t, err)
	assert.Contains(t, thin.Recommendations[0], "cannot absorb")
}

func TestOptimalRejectsEmptyBook(t *testing.T) {
	snap := handBook()
	snap.Asks = nil
	_, err := Optimal(snap, weth, big.NewInt(1), 18, 6, d("1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOptimalRejectsNonPositivePrices(t *testing.T) {
	cases := map[string]domain.OrderBookSnapshot{
		"zero book": {
			Pair: "WETH/USDC", BaseToken: weth, QuoteToken: usdc,
			Bids: []domain.OrderBookEntry{entry("0", "1")},
			Asks: []domain.OrderBookEntry{entry("0", "1")},
		},
		"negative prices": {
			Pair: "WETH/USDC", BaseToken: weth, QuoteToken: usdc,
			Bids: []domain.OrderBookEntry{entry("-2", "1")},
			Asks: []domain.OrderBookEntry{entry("-1", "1")},
		},
		"zero bid": {
			Pair: "WETH/USDC", BaseToken: weth, QuoteToken: usdc,
			Bids: []domain.OrderBookEntry{entry("0", "1")},
			Asks: []domain.OrderBookEntry{entry("3201", "1")},
		},
	}
	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			for _, sell := range []string{weth, usdc} {
				assert.NotPanics(t, func() {
					_, err := Optimal(snap, sell, big.NewInt(1), 18, 6, d("1"))
					assert.ErrorIs(t, err, domain.ErrValidation)
				})
			}
		})
	}
}

func TestEngineValidationAndSuggestPrice(t *testing.T) {
	gen := source.NewGenerator(testTokens, source.DefaultSyntheticLevels, time.Now)
	adapter := source.NewDemoAdapter(source.Session{ChainID: 1, Demo: true}, gen, 0)
	e := NewEngine(adapter, testTokens, nil)
	ctx := context.Background()

	_, err := e.SuggestPrice(ctx, weth, weth, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.SuggestPrice(ctx, weth, usdc, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.SuggestPrice(ctx, "nope", usdc, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.SuggestPrice(ctx, weth, "0x0000000000000000000000000000000000000001", big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrValidation)

	price, err := e.SuggestPrice(ctx, weth, usdc, big.NewInt(1))
	require.NoError(t, err)
	assert.True(t, price.GreaterThan(d("3000")) && price.LessThan(d("3400")), price.String())

	_, err = e.OptimalPricing(ctx, weth, usdc, big.NewInt(1), d("60"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	p, err := e.OptimalPricing(ctx, weth, usdc, big.NewInt(1), decimal.Zero)
	require.NoError(t, err)
	assert.Len(t, p.Strategies, 3)
}
