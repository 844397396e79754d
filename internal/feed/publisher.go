package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

// publishQueue bounds the snapshots waiting for the cache, bus and observer.
const publishQueue = 64

// SnapshotObserver is told about every snapshot a watched pair produces.
// The order service uses it to simulate demo fills.
type SnapshotObserver interface {
	ObserveSnapshot(ctx context.Context, sess source.Session, snap domain.OrderBookSnapshot)
}

// BookChannel returns the signal bus channel carrying snapshots of pairKey
// for sess, e.g. ch:book:1:live:<pairKey>. The mode segment keeps demo and
// live books apart.
func BookChannel(sess source.Session, pairKey string) string {
	return domain.ChannelBookPrefix + strconv.FormatInt(sess.ChainID, 10) + ":" + sess.Mode() + ":" + pairKey
}

// Publisher polls a fixed set of pairs for one session and fans every
// snapshot out to the snapshot cache, the signal bus and an observer. The
// fan-out runs on its own goroutine; when it falls behind, new snapshots are
// dropped rather than stalling the pollers.
type Publisher struct {
	adapter  source.Adapter
	cache    domain.SnapshotCache
	bus      domain.SignalBus
	observer SnapshotObserver
	logger   *slog.Logger

	queue   chan domain.OrderBookSnapshot
	dropped atomic.Uint64

	mu   sync.Mutex
	subs []*Subscription
}

// NewPublisher creates a Publisher. cache, bus and observer may be nil.
// Demo sessions never write the cache.
func NewPublisher(adapter source.Adapter, cache domain.SnapshotCache, bus domain.SignalBus, observer SnapshotObserver, logger *slog.Logger) *Publisher {
	return &Publisher{
		adapter:  adapter,
		cache:    cache,
		bus:      bus,
		observer: observer,
		logger:   logger.With(slog.String("component", "publisher"), slog.String("session", adapter.Session().String())),
		queue:    make(chan domain.OrderBookSnapshot, publishQueue),
	}
}

// Run subscribes to every pair and blocks until ctx is done, then
// unsubscribes them all.
func (p *Publisher) Run(ctx context.Context, pairs []domain.TokenPair, interval time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.drain(ctx)
	}()

	subs := make([]*Subscription, 0, len(pairs))
	for _, pair := range pairs {
		subs = append(subs, Subscribe(ctx, p.adapter, pair, interval,
			WithLogger(p.logger),
			WithHandler(p.enqueue),
		))
	}
	p.mu.Lock()
	p.subs = subs
	p.mu.Unlock()
	p.logger.Info("publisher: started", slog.Int("pairs", len(pairs)), slog.Duration("interval", interval))

	<-ctx.Done()
	for _, s := range subs {
		s.Unsubscribe()
	}
	<-done
	p.logger.Info("publisher: stopped", slog.Uint64("dropped", p.dropped.Load()))
	return ctx.Err()
}

// Fetches returns how many fetches the publisher's subscriptions have
// started.
func (p *Publisher) Fetches() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n uint64
	for _, s := range p.subs {
		n += s.Fetches()
	}
	return n
}

// Dropped returns how many snapshots were discarded because the fan-out
// queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// enqueue runs on the poll loop and must not block.
func (p *Publisher) enqueue(snap domain.OrderBookSnapshot) {
	select {
	case p.queue <- snap:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn("publisher: queue full, dropping snapshot",
				slog.String("pair", snap.Pair),
				slog.Uint64("dropped", n),
			)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-p.queue:
			p.publish(ctx, snap)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, snap domain.OrderBookSnapshot) {
	sess := p.adapter.Session()
	key := snap.TokenPair().Key()

	// Only live books are shared through the cache.
	if p.cache != nil && !sess.Demo {
		if err := p.cache.SetSnapshot(ctx, sess.ChainID, snap); err != nil {
			p.logger.Warn("publisher: cache snapshot failed", slog.String("pair", key), slog.String("error", err.Error()))
		}
	}
	if p.bus != nil {
		payload, err := json.Marshal(snap)
		if err == nil {
			err = p.bus.Publish(ctx, BookChannel(sess, key), payload)
		}
		if err != nil {
			p.logger.Warn("publisher: publish snapshot failed", slog.String("pair", key), slog.String("error", err.Error()))
		}
	}
	if p.observer != nil {
		p.observer.ObserveSnapshot(ctx, sess, snap)
	}
}
