package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// Catalog holds one Registry per supported chain.
type Catalog struct {
	byChain map[int64]*Registry
}

// NewCatalog creates registries for chainIDs sharing loader.
func NewCatalog(chainIDs []int64, loader Loader, maxSource int, logger *slog.Logger) *Catalog {
	c := &Catalog{byChain: make(map[int64]*Registry, len(chainIDs))}
	for _, id := range chainIDs {
		c.byChain[id] = New(id, loader, maxSource, logger)
	}
	return c
}

// For returns the registry for chainID or an error matching
// domain.ErrUnsupportedChain.
func (c *Catalog) For(chainID int64) (*Registry, error) {
	r, ok := c.byChain[chainID]
	if !ok {
		return nil, fmt.Errorf("registry: chain %d: %w", chainID, domain.ErrUnsupportedChain)
	}
	return r, nil
}

// Supported reports whether chainID has a registry.
func (c *Catalog) Supported(chainID int64) bool {
	_, ok := c.byChain[chainID]
	return ok
}

// ChainIDs returns the supported chains in ascending order.
func (c *Catalog) ChainIDs() []int64 {
	ids := make([]int64, 0, len(c.byChain))
	for id := range c.byChain {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RefreshAll refreshes every chain's registry.
func (c *Catalog) RefreshAll(ctx context.Context) {
	for _, id := range c.ChainIDs() {
		c.byChain[id].Refresh(ctx)
	}
}
