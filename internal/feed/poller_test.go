package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

var (
	pairA = domain.TokenPair{BaseToken: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", QuoteToken: "0xcccccccccccccccccccccccccccccccccccccccc", Symbol: "A/C"}
	pairB = domain.TokenPair{BaseToken: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", QuoteToken: "0xcccccccccccccccccccccccccccccccccccccccc", Symbol: "B/C"}
)

func book(pair domain.TokenPair) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Pair:       pair.Symbol,
		BaseToken:  pair.BaseToken,
		QuoteToken: pair.QuoteToken,
		Bids: []domain.OrderBookEntry{
			{ID: "b2", Price: decimal.NewFromInt(99), Amount: decimal.NewFromInt(1)},
			{ID: "b1", Price: decimal.NewFromInt(100), Amount: decimal.NewFromInt(2), Total: decimal.NewFromInt(7)},
		},
		Asks: []domain.OrderBookEntry{
			{ID: "a1", Price: decimal.NewFromInt(101), Amount: decimal.NewFromInt(1)},
		},
		CapturedAt: time.Now(),
	}
}

// scriptedFetcher returns a book for the requested pair. Fetches of pairs in
// gated block until the gate is closed, ignoring cancellation, to model a
// slow upstream response that arrives late.
type scriptedFetcher struct {
	mu    sync.Mutex
	gated map[string]chan struct{}
	fail  atomic.Bool
	calls atomic.Int64
}

func (f *scriptedFetcher) FetchSnapshot(_ context.Context, pair domain.TokenPair) (domain.OrderBookSnapshot, error) {
	f.calls.Add(1)
	f.mu.Lock()
	gate := f.gated[pair.Key()]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.fail.Load() {
		return domain.OrderBookSnapshot{}, errors.New("upstream down")
	}
	return book(pair), nil
}

func TestSubscribeFetchesImmediatelyAndNormalises(t *testing.T) {
	f := &scriptedFetcher{}
	sub := Subscribe(context.Background(), f, pairA, time.Hour)
	defer sub.Unsubscribe()

	select {
	case snap := <-sub.Updates():
		assert.Equal(t, "b1", snap.Bids[0].ID)
		assert.True(t, snap.Bids[0].Total.Equal(decimal.NewFromInt(200)))
		assert.True(t, snap.Stats.BestBid.Equal(decimal.NewFromInt(100)))
		assert.True(t, snap.Stats.TotalBidVolume.Equal(decimal.NewFromInt(299)))
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	assert.True(t, sub.Connected())
}

func TestLateResponseAfterSwitchIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	f := &scriptedFetcher{gated: map[string]chan struct{}{pairA.Key(): gate}}

	var mu sync.Mutex
	var seen []string
	switched := atomic.Bool{}
	sub := Subscribe(context.Background(), f, pairA, 20*time.Millisecond, WithHandler(func(s domain.OrderBookSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		if switched.Load() {
			seen = append(seen, s.Pair)
		}
	}))
	defer sub.Unsubscribe()

	// Let at least two A fetches start and stall.
	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	switched.Store(true)
	require.True(t, sub.SwitchPair(pairB))
	assert.Equal(t, pairB, sub.Pair())

	require.Eventually(t, func() bool {
		snap, ok := sub.Latest()
		return ok && snap.Pair == "B/C"
	}, 2*time.Second, 5*time.Millisecond)

	// The stalled A fetches now resolve after the switch.
	close(gate)
	time.Sleep(100 * time.Millisecond)

	snap, ok := sub.Latest()
	require.True(t, ok)
	assert.Equal(t, "B/C", snap.Pair)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, p := range seen {
		assert.Equal(t, "B/C", p)
	}
}

func TestFetchErrorKeepsPreviousSnapshot(t *testing.T) {
	f := &scriptedFetcher{}
	sub := Subscribe(context.Background(), f, pairA, 20*time.Millisecond)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { _, ok := sub.Latest(); return ok }, 2*time.Second, 5*time.Millisecond)
	before, _ := sub.Latest()

	f.fail.Store(true)
	require.Eventually(t, func() bool { return !sub.Connected() }, 2*time.Second, 5*time.Millisecond)

	after, ok := sub.Latest()
	require.True(t, ok)
	assert.Equal(t, before.CapturedAt, after.CapturedAt)
	assert.Error(t, sub.Err())

	// Polling continues on schedule and recovers.
	f.fail.Store(false)
	require.Eventually(t, sub.Connected, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, sub.Err())
}

func TestUnsubscribeStopsPolling(t *testing.T) {
	f := &scriptedFetcher{}
	sub := Subscribe(context.Background(), f, pairA, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()
	n := f.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, f.calls.Load())
	assert.False(t, sub.SwitchPair(pairB))

	select {
	case <-sub.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestContextCancelStopsSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := Subscribe(ctx, &scriptedFetcher{}, pairA, 10*time.Millisecond)
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestBookChannel(t *testing.T) {
	assert.Equal(t, "ch:book:1:live:"+pairA.Key(), BookChannel(source.Session{ChainID: 1}, pairA.Key()))
	assert.Equal(t, "ch:book:137:demo:"+pairA.Key(), BookChannel(source.Session{ChainID: 137, Demo: true}, pairA.Key()))
}
