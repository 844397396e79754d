package lru

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

func TestReadThroughHonoursFreshness(t *testing.T) {
	loads := 0
	status := domain.OrderStatusActive
	c, err := New(8, time.Second, func(_ context.Context, id string) (domain.LimitOrder, error) {
		loads++
		return domain.LimitOrder{ID: id, Status: status, MakingAmount: big.NewInt(1)}, nil
	})
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	_, err = c.Get(ctx, "o1")
	require.NoError(t, err)
	_, _ = c.Get(ctx, "o1")
	assert.Equal(t, 1, loads)

	now = now.Add(2 * time.Second)
	status = domain.OrderStatusFilled
	o, _ := c.Get(ctx, "o1")
	assert.Equal(t, 2, loads)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)

	// Terminal orders are not refetched.
	now = now.Add(time.Hour)
	_, _ = c.Get(ctx, "o1")
	assert.Equal(t, 2, loads)

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(2), misses)
}

func TestLoadErrorIsNotCached(t *testing.T) {
	c, err := New(8, time.Second, func(_ context.Context, id string) (domain.LimitOrder, error) {
		return domain.LimitOrder{}, domain.ErrNotFound
	})
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, c.Len())
}

func TestEvictionAndActive(t *testing.T) {
	c, err := New(2, time.Minute, nil)
	require.NoError(t, err)
	c.Put(domain.LimitOrder{ID: "a", Status: domain.OrderStatusActive})
	c.Put(domain.LimitOrder{ID: "b", Status: domain.OrderStatusCancelled})
	c.Put(domain.LimitOrder{ID: "c", Status: domain.OrderStatusActive})

	_, ok := c.Peek("a")
	assert.False(t, ok)
	assert.Len(t, c.Active(), 1)

	c.Invalidate("c")
	assert.Empty(t, c.Active())
}
