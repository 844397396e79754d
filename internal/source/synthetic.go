package source

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/big"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

const (
	// DefaultSyntheticLevels is the ladder depth per side of a generated book.
	DefaultSyntheticLevels = 25
	defaultSyntheticTrades = 12
)

// referenceUSD anchors generated prices for well-known symbols. Anything
// else gets a stable pseudo-random reference from its address.
var referenceUSD = map[string]float64{
	"WETH":   3200,
	"WBTC":   65000,
	"USDC":   1,
	"USDC.e": 1,
	"USDT":   1,
	"DAI":    1,
	"WMATIC": 0.7,
	"1INCH":  0.4,
}

var syntheticNamespace = uuid.MustParse("6f0b8d5e-3c1a-4e59-9a57-2b1f3e4c7d21")

// Generator builds deterministic, well-ordered synthetic order books. The
// n-th snapshot of a pair is always the same apart from its timestamps.
type Generator struct {
	tokens TokenInfo
	levels int
	trades int
	now    func() time.Time

	mu  sync.Mutex
	seq map[string]uint64
}

// NewGenerator returns a Generator producing levels entries per side.
func NewGenerator(tokens TokenInfo, levels int, now func() time.Time) *Generator {
	if levels <= 0 {
		levels = DefaultSyntheticLevels
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		tokens: tokens,
		levels: levels,
		trades: defaultSyntheticTrades,
		now:    now,
		seq:    make(map[string]uint64),
	}
}

func seedOf(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func (g *Generator) usd(addr string) float64 {
	if p, ok := referenceUSD[g.tokens.ResolveSymbol(addr)]; ok {
		return p
	}
	return 0.5 + float64(seedOf(strings.ToLower(addr))%10000)/100
}

func (g *Generator) next(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq[key]++
	return g.seq[key]
}

func (g *Generator) current(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq[key]
}

// mid returns the quote-per-base mid price of pair at seq. Reversed
// orientations of the same pair are exact reciprocals.
func (g *Generator) mid(pair domain.TokenPair, seq uint64) float64 {
	key := pair.Key()
	first := key[:strings.IndexByte(key, ':')]

	rng := rand.New(rand.NewPCG(seedOf(key), seq))
	drift := 0.01*math.Sin(float64(seq)/9) + (rng.Float64()-0.5)*0.002

	var canonical float64
	if strings.EqualFold(pair.BaseToken, first) {
		canonical = g.usd(pair.BaseToken) / g.usd(pair.QuoteToken)
		return canonical * (1 + drift)
	}
	canonical = g.usd(pair.QuoteToken) / g.usd(pair.BaseToken)
	return 1 / (canonical * (1 + drift))
}

// pricePlaces keeps roughly eight significant digits for any magnitude.
func pricePlaces(mid float64) int32 {
	p := int32(8 - math.Floor(math.Log10(mid)))
	return min(max(p, 2), 18)
}

func dec(f float64, places int32) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(places)
}

func randomAddress(rng *rand.Rand) string {
	var b [20]byte
	for i := 0; i < len(b); i += 8 {
		v := rng.Uint64()
		for j := 0; j < 8 && i+j < len(b); j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	return common.BytesToAddress(b[:]).Hex()
}

// Snapshot generates the next snapshot for pair.
func (g *Generator) Snapshot(chainID int64, pair domain.TokenPair) domain.OrderBookSnapshot {
	key := pair.Key()
	seq := g.next(key)
	now := g.now()

	mid := g.mid(pair, seq)
	places := pricePlaces(mid)
	rng := rand.New(rand.NewPCG(seedOf(key)^0x9e3779b97f4a7c15, seq))
	baseUSD := g.usd(pair.BaseToken)

	half := mid * 0.0005 * (1 + rng.Float64())
	tick := mid * 0.0004

	entryID := func(side string, i int) string {
		return uuid.NewSHA1(syntheticNamespace, fmt.Appendf(nil, "%s:%d:%d:%s:%d", key, chainID, seq, side, i)).String()
	}
	entry := func(side string, i int, price float64) domain.OrderBookEntry {
		amount := dec((200+rng.Float64()*19800)/baseUSD, 6)
		if !amount.IsPositive() {
			amount = decimal.New(1, -6)
		}
		return domain.OrderBookEntry{
			ID:        entryID(side, i),
			Price:     dec(price, places),
			Amount:    amount,
			Maker:     randomAddress(rng),
			Timestamp: now.Add(-time.Duration(rng.IntN(3600)) * time.Second),
			FillCount: rng.IntN(4),
		}
	}

	bids := make([]domain.OrderBookEntry, 0, g.levels)
	asks := make([]domain.OrderBookEntry, 0, g.levels)
	bid, ask := mid-half, mid+half
	for i := 0; i < g.levels; i++ {
		if i > 0 {
			bid -= tick * (0.5 + rng.Float64())
			ask += tick * (0.5 + rng.Float64())
		}
		bids = append(bids, entry("b", i, bid))
		asks = append(asks, entry("a", i, ask))
	}

	trades := make([]domain.Trade, 0, g.trades)
	at := now
	for i := 0; i < g.trades; i++ {
		at = at.Add(-time.Duration(1+rng.IntN(90)) * time.Second)
		side := domain.TradeSideBuy
		if rng.IntN(2) == 0 {
			side = domain.TradeSideSell
		}
		id := entryID("t", i)
		trades = append(trades, domain.Trade{
			ID:        id,
			Price:     dec(mid*(1+(rng.Float64()-0.5)*0.002), places),
			Amount:    dec((50+rng.Float64()*5000)/baseUSD, 6),
			Side:      side,
			Timestamp: at,
			TxHash:    ethcrypto.Keccak256Hash([]byte(id)).Hex(),
		})
	}

	snap := domain.OrderBookSnapshot{
		Pair:         g.tokens.ResolveSymbol(pair.BaseToken) + "/" + g.tokens.ResolveSymbol(pair.QuoteToken),
		ChainID:      chainID,
		BaseToken:    pair.BaseToken,
		QuoteToken:   pair.QuoteToken,
		Bids:         bids,
		Asks:         asks,
		RecentTrades: trades,
		Stats: domain.SnapshotStats{
			Volume24h:      dec((1e5+rng.Float64()*4.9e6)/baseUSD, 4),
			PriceChange24h: dec((rng.Float64()-0.5)*10, 2),
			High24h:        dec(mid*(1.01+rng.Float64()*0.03), places),
			Low24h:         dec(mid*(0.99-rng.Float64()*0.03), places),
		},
		CapturedAt: now,
	}
	return snap.Normalized()
}

// Quote converts sellAmount base units of sellToken into buyToken base units
// at the current synthetic mid, scaling by each asset's own decimals.
func (g *Generator) Quote(sellToken, buyToken string, sellAmount *big.Int) (domain.Quote, error) {
	sellDec, err := g.tokens.Decimals(sellToken)
	if err != nil {
		return domain.Quote{}, domain.Invalid("sellToken", "unknown token "+sellToken)
	}
	buyDec, err := g.tokens.Decimals(buyToken)
	if err != nil {
		return domain.Quote{}, domain.Invalid("buyToken", "unknown token "+buyToken)
	}

	pair := domain.TokenPair{BaseToken: sellToken, QuoteToken: buyToken}
	mid := g.mid(pair, g.current(pair.Key()))
	price := dec(mid, pricePlaces(mid))

	buy := decimal.NewFromBigInt(sellAmount, -sellDec).Mul(price).Shift(buyDec).Floor()
	return domain.Quote{
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: sellAmount.String(),
		BuyAmount:  buy.BigInt().String(),
		Price:      price,
		QuotedAt:   g.now(),
	}, nil
}
