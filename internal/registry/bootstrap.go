package registry

import "github.com/alanyoungcy/limitdesk/internal/domain"

// bootstrap is the fallback set used while the source list is unavailable:
// the wrapped native asset against the main stablecoin on each chain.
var bootstrap = map[int64]Listing{
	1: {
		Tokens: []domain.Token{
			{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18},
			{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
			{Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Decimals: 6},
		},
		Pairs: []domain.TokenPair{
			{BaseToken: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", QuoteToken: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
			{BaseToken: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", QuoteToken: "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
		},
	},
	137: {
		Tokens: []domain.Token{
			{Address: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", Symbol: "WMATIC", Decimals: 18},
			{Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Symbol: "USDC.e", Decimals: 6},
		},
		Pairs: []domain.TokenPair{
			{BaseToken: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", QuoteToken: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"},
		},
	},
	8453: {
		Tokens: []domain.Token{
			{Address: "0x4200000000000000000000000000000000000006", Symbol: "WETH", Decimals: 18},
			{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6},
		},
		Pairs: []domain.TokenPair{
			{BaseToken: "0x4200000000000000000000000000000000000006", QuoteToken: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
		},
	},
	42161: {
		Tokens: []domain.Token{
			{Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Symbol: "WETH", Decimals: 18},
			{Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Symbol: "USDC", Decimals: 6},
		},
		Pairs: []domain.TokenPair{
			{BaseToken: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", QuoteToken: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"},
		},
	},
}

// Bootstrap returns the hardcoded fallback listing for chainID.
func Bootstrap(chainID int64) (Listing, bool) {
	l, ok := bootstrap[chainID]
	return l, ok
}
