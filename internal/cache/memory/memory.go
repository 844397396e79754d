// Package memory provides in-process implementations of the snapshot cache
// and signal bus for single-replica runs without Redis.
package memory

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// SnapshotCache keeps the latest snapshot per chain and pair key.
type SnapshotCache struct {
	mu    sync.RWMutex
	snaps map[string]domain.OrderBookSnapshot
}

// NewSnapshotCache returns an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{snaps: make(map[string]domain.OrderBookSnapshot)}
}

func snapKey(chainID int64, pairKey string) string {
	return strconv.FormatInt(chainID, 10) + "/" + pairKey
}

// SetSnapshot stores snap, replacing any earlier one.
func (c *SnapshotCache) SetSnapshot(_ context.Context, chainID int64, snap domain.OrderBookSnapshot) error {
	c.mu.Lock()
	c.snaps[snapKey(chainID, snap.TokenPair().Key())] = snap
	c.mu.Unlock()
	return nil
}

// GetSnapshot returns the stored snapshot or domain.ErrNotFound.
func (c *SnapshotCache) GetSnapshot(_ context.Context, chainID int64, pairKey string) (domain.OrderBookSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snaps[snapKey(chainID, pairKey)]
	if !ok {
		return domain.OrderBookSnapshot{}, fmt.Errorf("memory: snapshot %s: %w", pairKey, domain.ErrNotFound)
	}
	return s, nil
}

const subscriberBuffer = 128

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus is a fan-out bus. Channel names containing glob characters are
// matched with path.Match, mirroring Redis PSUBSCRIBE for the ch:* names
// used here. Slow subscribers drop messages rather than block publishers.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewSignalBus returns a bus with no subscribers.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every matching subscriber.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel (or on any
// channel matching it). The channel closes when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, err)
	}
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

func matches(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	ok, _ := path.Match(pattern, channel)
	return ok
}

var (
	_ domain.SnapshotCache = (*SnapshotCache)(nil)
	_ domain.SignalBus     = (*SignalBus)(nil)
)
