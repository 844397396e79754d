package domain

import (
	"context"
	"time"
)

// SnapshotCache holds the latest snapshot per chain and pair key.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, chainID int64, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, chainID int64, pairKey string) (OrderBookSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub between the pollers, the order service and the
// websocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

const (
	// ChannelOrder carries order transitions as JSON OrderUpdate values.
	ChannelOrder = "ch:order"
	// ChannelBookPrefix prefixes per-market snapshot channels:
	// ch:book:<chainID>:<demo|live>:<pairKey>.
	ChannelBookPrefix = "ch:book:"
	// ChannelBookPattern matches every snapshot channel.
	ChannelBookPattern = "ch:book:*"
)
