// Package cache hosts the fast key-value collaborators that sit in front
// of the durable store: the per-whale position-snapshot cache and the
// idempotency keyspace. Both are backed by Redis via go-redis/v9 for
// short-TTL coordination state.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// Cache wraps a single Redis client.
type Cache struct {
	rdb *redis.Client
}

// Open connects to Redis at addr, authenticating with password if set.
func Open(addr, password string, db int) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func snapshotKey(whaleID uint64) string {
	return fmt.Sprintf("whalecopy:snapshot:%d", whaleID)
}

// GetSnapshot returns a whale's previously cached position snapshot. The
// bool return is false when nothing is cached yet, the scheduler's
// signal to apply the first-observation policy.
func (c *Cache) GetSnapshot(ctx context.Context, whaleID uint64) (domain.PositionSnapshot, bool, error) {
	raw, err := c.rdb.Get(ctx, snapshotKey(whaleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PositionSnapshot{}, false, nil
	}
	if err != nil {
		return domain.PositionSnapshot{}, false, err
	}
	var snap domain.PositionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.PositionSnapshot{}, false, fmt.Errorf("decoding cached snapshot: %w", err)
	}
	return snap, true, nil
}

// PutSnapshot replaces the cached snapshot for a whale with a TTL long
// enough to survive one missed poll of its tier.
func (c *Cache) PutSnapshot(ctx context.Context, snap domain.PositionSnapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return c.rdb.Set(ctx, snapshotKey(snap.WhaleID), raw, ttl).Err()
}

// idempotencyKey builds the key format: ("operation", entity-id[, actor]).
func idempotencyKey(operation string, entityID interface{}, actor string) string {
	if actor == "" {
		return fmt.Sprintf("whalecopy:idem:%s:%v", operation, entityID)
	}
	return fmt.Sprintf("whalecopy:idem:%s:%v:%s", operation, entityID, actor)
}

// AcquireResult is what Acquire reports back to the caller.
type AcquireResult struct {
	Acquired        bool
	AlreadyCompleted bool
}

const completedMarker = "done"

// Acquire tries to take the idempotency lock for one operation instance.
// If the key already holds the completed marker, AlreadyCompleted is true
// and the caller should treat the operation as already done. If another
// worker holds the lock (uncompleted), Acquired is false. Otherwise this
// call wins the lock with ttl and Acquired is true.
func (c *Cache) Acquire(ctx context.Context, operation string, entityID interface{}, actor string, ttl time.Duration) (AcquireResult, error) {
	key := idempotencyKey(operation, entityID, actor)

	ok, err := c.rdb.SetNX(ctx, key, "locked", ttl).Result()
	if err != nil {
		return AcquireResult{}, err
	}
	if ok {
		return AcquireResult{Acquired: true}, nil
	}

	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return AcquireResult{}, err
	}
	if val == completedMarker {
		return AcquireResult{AlreadyCompleted: true}, nil
	}
	return AcquireResult{}, nil
}

// MarkCompleted records that an operation finished, so a future Acquire on
// the same key returns AlreadyCompleted instead of racing a retry.
func (c *Cache) MarkCompleted(ctx context.Context, operation string, entityID interface{}, actor string, ttl time.Duration) error {
	key := idempotencyKey(operation, entityID, actor)
	return c.rdb.Set(ctx, key, completedMarker, ttl).Err()
}

// Release drops the lock without marking it completed — used when an
// operation fails in a way that should let another worker retry
// immediately rather than wait out the TTL.
func (c *Cache) Release(ctx context.Context, operation string, entityID interface{}, actor string) error {
	return c.rdb.Del(ctx, idempotencyKey(operation, entityID, actor)).Err()
}
