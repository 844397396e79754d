package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/registry"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

const (
	weth = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdc = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

// gatedBus blocks every Publish until release is closed or ctx ends.
type gatedBus struct {
	release chan struct{}

	mu       sync.Mutex
	channels []string
}

func (b *gatedBus) Publish(ctx context.Context, channel string, _ []byte) error {
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	b.channels = append(b.channels, channel)
	b.mu.Unlock()
	return nil
}

func (b *gatedBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *gatedBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.channels...)
}

func demoPublisher(t *testing.T, bus domain.SignalBus) (*Publisher, domain.TokenPair) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(1, registry.NewFileLoader(""), 0, logger)
	pair, err := reg.Pair(weth, usdc)
	require.NoError(t, err)
	sess := source.Session{ChainID: 1, Demo: true}
	adapter := source.NewDemoAdapter(sess, source.NewGenerator(reg, 5, time.Now), 0)
	return NewPublisher(adapter, nil, bus, nil, logger), pair
}

func TestPublisherSendsSnapshotsToBus(t *testing.T) {
	bus := &gatedBus{}
	pub, pair := demoPublisher(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx, []domain.TokenPair{pair}, 5*time.Millisecond) }()

	want := BookChannel(source.Session{ChainID: 1, Demo: true}, pair.Key())
	require.Eventually(t, func() bool { return len(bus.published()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, bus.published()[0])
	assert.NotZero(t, pub.Fetches())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSlowBusDoesNotStallPolling(t *testing.T) {
	bus := &gatedBus{release: make(chan struct{})}
	pub, pair := demoPublisher(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx, []domain.TokenPair{pair}, time.Millisecond) }()

	// With the bus stuck, polling keeps going and the queue overflows.
	require.Eventually(t, func() bool { return pub.Dropped() > 0 }, 5*time.Second, 5*time.Millisecond)
	before := pub.Fetches()
	require.Eventually(t, func() bool { return pub.Fetches() > before+5 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, bus.published())

	close(bus.release)
	require.Eventually(t, func() bool { return len(bus.published()) > 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
}
