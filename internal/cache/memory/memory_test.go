package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

func TestSignalBusPatternDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewSignalBus()

	books, err := bus.Subscribe(ctx, domain.ChannelBookPattern)
	require.NoError(t, err)
	orders, err := bus.Subscribe(ctx, domain.ChannelOrder)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ch:book:1:0xa:0xb", []byte("snap")))
	require.NoError(t, bus.Publish(ctx, domain.ChannelOrder, []byte("order")))

	assert.Equal(t, []byte("snap"), <-books)
	assert.Equal(t, []byte("order"), <-orders)
	select {
	case msg := <-books:
		t.Fatalf("unexpected message %q", msg)
	default:
	}

	cancel()
	select {
	case _, ok := <-books:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestSnapshotCache(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache()
	snap := domain.OrderBookSnapshot{Pair: "A/B", BaseToken: "0xaa", QuoteToken: "0xbb"}
	require.NoError(t, c.SetSnapshot(ctx, 1, snap))

	got, err := c.GetSnapshot(ctx, 1, domain.PairKey("0xbb", "0xaa"))
	require.NoError(t, err)
	assert.Equal(t, "A/B", got.Pair)

	_, err = c.GetSnapshot(ctx, 137, snap.TokenPair().Key())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
