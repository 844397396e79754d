package redis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

const subscriberBuffer = 128

// SignalBus carries snapshots and order transitions over Redis Pub/Sub so
// every replica's websocket hub and notifier see them. Like the in-process
// bus, a subscriber that falls behind loses messages instead of stalling the
// shared connection.
type SignalBus struct {
	rdb     *redis.Client
	dropped atomic.Int64
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload on channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, or on every channel matching it when it
// holds glob characters (ch:book:1:demo:*). The returned channel closes when
// ctx is done or the connection is lost.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var ps *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		ps = b.rdb.PSubscribe(ctx, channel)
	} else {
		ps = b.rdb.Subscribe(ctx, channel)
	}
	// The first reply confirms the subscription, so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go b.forward(ctx, ps, out)
	return out, nil
}

func (b *SignalBus) forward(ctx context.Context, ps *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer ps.Close()

	in := ps.Channel(redis.WithChannelSize(subscriberBuffer))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Dropped reports how many messages slow subscribers have lost.
func (b *SignalBus) Dropped() int64 {
	return b.dropped.Load()
}

var _ domain.SignalBus = (*SignalBus)(nil)
