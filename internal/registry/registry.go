// Package registry maintains the canonical set of tradeable token pairs per
// chain and the per-asset decimals used for amount scaling.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// DefaultMaxSourcePairs bounds how many raw pairs are read from a source.
const DefaultMaxSourcePairs = 500

// Registry is the pair registry for one chain.
type Registry struct {
	chainID   int64
	loader    Loader
	maxSource int
	logger    *slog.Logger

	mu       sync.RWMutex
	tokens   map[string]domain.Token
	pairs    []domain.TokenPair
	fallback bool
}

// New creates a Registry seeded with the bootstrap set for chainID.
func New(chainID int64, loader Loader, maxSource int, logger *slog.Logger) *Registry {
	if maxSource <= 0 {
		maxSource = DefaultMaxSourcePairs
	}
	r := &Registry{
		chainID:   chainID,
		loader:    loader,
		maxSource: maxSource,
		logger:    logger.With(slog.String("component", "registry"), slog.Int64("chain_id", chainID)),
	}
	boot, _ := Bootstrap(chainID)
	r.install(boot, true)
	return r
}

// ChainID returns the chain this registry serves.
func (r *Registry) ChainID() int64 { return r.chainID }

// Load reads the bounded source list and returns its pairs with symbols
// resolved. When the source cannot be read it returns an empty list and an
// error matching domain.ErrRegistryUnavailable; the installed set is left
// unchanged.
func (r *Registry) Load(ctx context.Context) ([]domain.TokenPair, error) {
	listing, err := r.loader.Load(ctx, r.chainID)
	if err != nil {
		return []domain.TokenPair{}, fmt.Errorf("registry: load chain %d: %w: %w", r.chainID, domain.ErrRegistryUnavailable, err)
	}
	if len(listing.Pairs) > r.maxSource {
		listing.Pairs = listing.Pairs[:r.maxSource]
	}
	r.install(listing, false)

	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.TokenPair(nil), r.pairs...), nil
}

// Refresh loads the source list, falling back to the bootstrap set when the
// source is unavailable. It never fails.
func (r *Registry) Refresh(ctx context.Context) {
	pairs, err := r.Load(ctx)
	if err != nil {
		r.logger.Warn("registry: source unavailable, using bootstrap pairs", slog.String("error", err.Error()))
		boot, _ := Bootstrap(r.chainID)
		r.install(boot, true)
		return
	}
	r.logger.Info("registry: loaded", slog.Int("pairs", len(pairs)))
}

// Fallback reports whether the bootstrap set is currently installed.
func (r *Registry) Fallback() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

func (r *Registry) install(l Listing, fallback bool) {
	tokens := make(map[string]domain.Token, len(l.Tokens))
	for _, t := range l.Tokens {
		addr, err := domain.NormalizeAddress(t.Address)
		if err != nil || t.Symbol == "" {
			continue
		}
		t.Address = addr
		tokens[addr] = t
	}

	pairs := make([]domain.TokenPair, 0, len(l.Pairs))
	for _, p := range l.Pairs {
		if !p.Valid() {
			continue
		}
		base, _ := domain.NormalizeAddress(p.BaseToken)
		quote, _ := domain.NormalizeAddress(p.QuoteToken)
		pairs = append(pairs, domain.TokenPair{
			BaseToken:  base,
			QuoteToken: quote,
			Symbol:     symbolOf(tokens, base) + "/" + symbolOf(tokens, quote),
		})
	}

	r.mu.Lock()
	r.tokens = tokens
	r.pairs = pairs
	r.fallback = fallback
	r.mu.Unlock()
}

func symbolOf(tokens map[string]domain.Token, addr string) string {
	if t, ok := tokens[strings.ToLower(addr)]; ok {
		return t.Symbol
	}
	return domain.UnknownSymbol
}

// ResolveSymbol returns the token symbol for addr or domain.UnknownSymbol.
func (r *Registry) ResolveSymbol(addr string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return symbolOf(r.tokens, strings.TrimSpace(addr))
}

// Lookup returns the token registered at addr.
func (r *Registry) Lookup(addr string) (domain.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[strings.ToLower(strings.TrimSpace(addr))]
	return t, ok
}

// Decimals returns the per-asset decimal scale of addr.
func (r *Registry) Decimals(addr string) (int32, error) {
	t, ok := r.Lookup(addr)
	if !ok {
		return 0, fmt.Errorf("registry: decimals for %s: %w", addr, domain.ErrNotFound)
	}
	return t.Decimals, nil
}

// CanonicalPairs returns up to limit pairs in source order with pairs that
// reference an unknown token dropped and duplicates, by order-independent
// key, removed. A non-positive limit returns every pair.
func (r *Registry) CanonicalPairs(limit int) []domain.TokenPair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.pairs))
	out := make([]domain.TokenPair, 0, min(len(r.pairs), max(limit, 0)))
	for _, p := range r.pairs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if symbolOf(r.tokens, p.BaseToken) == domain.UnknownSymbol ||
			symbolOf(r.tokens, p.QuoteToken) == domain.UnknownSymbol {
			continue
		}
		key := p.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Search returns canonical pairs whose symbol contains query or whose base
// or quote address starts with it. Matching is case-insensitive.
func (r *Registry) Search(query string, limit int) []domain.TokenPair {
	q := strings.ToLower(strings.TrimSpace(query))
	all := r.CanonicalPairs(0)
	if q == "" {
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		return all
	}
	var out []domain.TokenPair
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Symbol), q) ||
			strings.HasPrefix(p.BaseToken, q) || strings.HasPrefix(p.QuoteToken, q) {
			out = append(out, p)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Tokens returns every registered token sorted by symbol.
func (r *Registry) Tokens() []domain.Token {
	r.mu.RLock()
	out := make([]domain.Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Pair builds a TokenPair for two addresses, resolving the display symbol.
func (r *Registry) Pair(base, quote string) (domain.TokenPair, error) {
	b, err := domain.ParseAddress("baseToken", base)
	if err != nil {
		return domain.TokenPair{}, err
	}
	q, err := domain.ParseAddress("quoteToken", quote)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if b == q {
		return domain.TokenPair{}, domain.Invalid("quoteToken", "must differ from baseToken")
	}
	return domain.TokenPair{
		BaseToken:  b,
		QuoteToken: q,
		Symbol:     r.ResolveSymbol(b) + "/" + r.ResolveSymbol(q),
	}, nil
}
