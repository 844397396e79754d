package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// MarketDepth aggregates the first levels distinct price levels of each side
// of snap. Entries sharing a price are merged and counted. A non-positive
// levels keeps every level. Side totals are the sums of the returned level
// totals, so they always agree with the levels shown.
func MarketDepth(snap domain.OrderBookSnapshot, levels int) domain.MarketDepth {
	snap = snap.Normalized()
	bids := aggregate(snap.Bids, levels)
	asks := aggregate(snap.Asks, levels)
	return domain.MarketDepth{
		Pair:           snap.Pair,
		MarketPrice:    snap.Stats.MidPrice,
		TotalBidVolume: sumLevels(bids),
		TotalAskVolume: sumLevels(asks),
		Bids:           bids,
		Asks:           asks,
	}
}

func aggregate(entries []domain.OrderBookEntry, levels int) []domain.DepthLevel {
	out := make([]domain.DepthLevel, 0, min(len(entries), max(levels, 0)))
	for _, e := range entries {
		if n := len(out); n > 0 && out[n-1].Price.Equal(e.Price) {
			out[n-1].Amount = out[n-1].Amount.Add(e.Amount)
			out[n-1].Total = out[n-1].Total.Add(e.Total)
			out[n-1].Count++
			continue
		}
		if levels > 0 && len(out) == levels {
			break
		}
		out = append(out, domain.DepthLevel{Price: e.Price, Amount: e.Amount, Total: e.Total, Count: 1})
	}
	return out
}

func sumLevels(levels []domain.DepthLevel) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Total)
	}
	return sum
}
