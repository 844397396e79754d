// Package feed keeps order book snapshots flowing: a Subscription polls one
// pair at a time and a Publisher fans snapshots of watched pairs out to the
// cache, the signal bus and the order service.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// DefaultInterval is used when Subscribe is given a non-positive interval.
const DefaultInterval = 3 * time.Second

// Fetcher produces snapshots. source.Adapter satisfies it.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, pair domain.TokenPair) (domain.OrderBookSnapshot, error)
}

// Option configures a Subscription.
type Option func(*Subscription)

// WithHandler registers fn to receive every applied snapshot. fn runs on the
// subscription's goroutine and must not block.
func WithHandler(fn func(domain.OrderBookSnapshot)) Option {
	return func(s *Subscription) { s.handler = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscription) { s.logger = l }
}

type fetchResult struct {
	gen  uint64
	snap domain.OrderBookSnapshot
	err  error
}

type switchReq struct {
	pair domain.TokenPair
	ack  chan struct{}
}

// Subscription polls one pair on a fixed interval. It owns a single goroutine;
// every fetch runs under its own context, and starting a fetch cancels the
// previous one, so a superseded response is never applied.
type Subscription struct {
	fetcher  Fetcher
	interval time.Duration
	handler  func(domain.OrderBookSnapshot)
	logger   *slog.Logger

	updates  chan domain.OrderBookSnapshot
	switchCh chan switchReq
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.RWMutex
	pair      domain.TokenPair
	latest    domain.OrderBookSnapshot
	hasLatest bool
	connected bool
	lastErr   error
	fetches   uint64
}

// Subscribe starts polling pair immediately and then every interval until
// Unsubscribe is called or ctx is done.
func Subscribe(ctx context.Context, fetcher Fetcher, pair domain.TokenPair, interval time.Duration, opts ...Option) *Subscription {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Subscription{
		fetcher:  fetcher,
		interval: interval,
		logger:   slog.Default(),
		updates:  make(chan domain.OrderBookSnapshot, 1),
		switchCh: make(chan switchReq),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pair:     pair,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("component", "poller"))
	go s.run(ctx)
	return s
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	results := make(chan fetchResult)
	var (
		gen         uint64
		cancelFetch context.CancelFunc
	)
	cancelInFlight := func() {
		if cancelFetch != nil {
			cancelFetch()
			cancelFetch = nil
		}
	}
	defer cancelInFlight()

	start := func() {
		cancelInFlight()
		gen++
		fctx, cancel := context.WithCancel(ctx)
		cancelFetch = cancel

		s.mu.Lock()
		pair := s.pair
		s.fetches++
		s.mu.Unlock()

		go func(g uint64) {
			snap, err := s.fetcher.FetchSnapshot(fctx, pair)
			select {
			case results <- fetchResult{gen: g, snap: snap, err: err}:
			case <-fctx.Done():
			}
		}(gen)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	start()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case req := <-s.switchCh:
			cancelInFlight()
			s.mu.Lock()
			s.pair = req.pair
			s.latest = domain.OrderBookSnapshot{}
			s.hasLatest = false
			s.connected = false
			s.lastErr = nil
			s.mu.Unlock()
			s.drainUpdates()
			ticker.Reset(s.interval)
			start()
			close(req.ack)
		case <-ticker.C:
			start()
		case r := <-results:
			if r.gen != gen {
				continue
			}
			cancelInFlight()
			s.apply(r)
		}
	}
}

func (s *Subscription) apply(r fetchResult) {
	s.mu.Lock()
	pair := s.pair
	if r.err != nil {
		s.connected = false
		s.lastErr = r.err
		s.mu.Unlock()
		s.logger.Warn("poller: fetch failed, keeping previous snapshot",
			slog.String("pair", pair.Key()),
			slog.String("error", r.err.Error()),
		)
		return
	}

	snap := r.snap.Normalized()
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now()
	}
	if s.hasLatest && snap.CapturedAt.Before(s.latest.CapturedAt) {
		snap.CapturedAt = s.latest.CapturedAt
	}
	s.latest = snap
	s.hasLatest = true
	s.connected = true
	s.lastErr = nil
	s.mu.Unlock()

	s.drainUpdates()
	s.updates <- snap
	if s.handler != nil {
		s.handler(snap)
	}
}

// drainUpdates drops an unconsumed snapshot so Updates always carries the
// newest one. Only the run goroutine sends on updates.
func (s *Subscription) drainUpdates() {
	select {
	case <-s.updates:
	default:
	}
}

// SwitchPair cancels any in-flight fetch, discards the current snapshot and
// starts polling pair. When it returns, no snapshot of the previous pair
// will be delivered.
func (s *Subscription) SwitchPair(pair domain.TokenPair) bool {
	req := switchReq{pair: pair, ack: make(chan struct{})}
	select {
	case s.switchCh <- req:
		<-req.ack
		return true
	case <-s.done:
		return false
	}
}

// Unsubscribe stops the timer, cancels any in-flight fetch and waits for the
// subscription goroutine to exit. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Updates delivers the newest snapshot; an unread snapshot is replaced by a
// newer one rather than queued.
func (s *Subscription) Updates() <-chan domain.OrderBookSnapshot { return s.updates }

// Latest returns the most recent snapshot, retained across fetch failures.
func (s *Subscription) Latest() (domain.OrderBookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// Connected reports whether the most recent fetch succeeded.
func (s *Subscription) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Err returns the error of the most recent fetch, if it failed.
func (s *Subscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Pair returns the pair currently being polled.
func (s *Subscription) Pair() domain.TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// Fetches returns how many fetches have been started.
func (s *Subscription) Fetches() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches
}
