package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// DefaultSnapshotTTL bounds how long a snapshot outlives its poller.
const DefaultSnapshotTTL = 5 * time.Minute

// SnapshotCache implements domain.SnapshotCache with one hash per market.
//
// Key schema:
//
//	book:{chainID}:{pairKey}  hash
//	    snap  JSON OrderBookSnapshot
//	    bid   best bid price
//	    ask   best ask price
//	    ts    capture time, unix nanoseconds
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache. A non-positive ttl uses
// DefaultSnapshotTTL.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func bookKey(chainID int64, pairKey string) string {
	return "book:" + strconv.FormatInt(chainID, 10) + ":" + pairKey
}

// SetSnapshot atomically replaces the cached snapshot of the market.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, chainID int64, snap domain.OrderBookSnapshot) error {
	key := bookKey(chainID, snap.TokenPair().Key())
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot %s: %w", key, err)
	}

	pipe := sc.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"snap", payload,
		"bid", snap.Stats.BestBid.String(),
		"ask", snap.Stats.BestAsk.String(),
		"ts", strconv.FormatInt(snap.CapturedAt.UnixNano(), 10),
	)
	pipe.Expire(ctx, key, sc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, chainID int64, pairKey string) (domain.OrderBookSnapshot, error) {
	key := bookKey(chainID, pairKey)
	raw, err := sc.rdb.HGet(ctx, key, "snap").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderBookSnapshot{}, fmt.Errorf("redis: snapshot %s: %w", key, domain.ErrNotFound)
		}
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}
	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", key, err)
	}
	return snap, nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
