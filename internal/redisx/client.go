package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return r
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Seen reports whether service already finished processing event id.
func Seen(ctx context.Context, rdb *redis.Client, service, id string) (bool, error) {
	return Exists(ctx, rdb, fmt.Sprintf(KeyDedup, service, id))
}

// MarkSeen is called only after processing succeeded, so a failed attempt is retried on redelivery.
func MarkSeen(ctx context.Context, rdb *redis.Client, service, id string) error {
	return rdb.Set(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Err()
}

// StatusCache keeps a short-lived copy of an order's status for GET /orders/{id}/status.
type StatusCache struct {
	RDB *redis.Client
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (json.RawMessage, bool) {
	s, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil || s == "" {
		return nil, false
	}
	return json.RawMessage(s), true
}

func (c *StatusCache) Set(ctx context.Context, orderID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// IdempotencyIndex is the fast path for Idempotency-Key replays. The database stays the
// source of truth; a miss here only means the lookup falls through to it.
type IdempotencyIndex struct {
	RDB *redis.Client
}

func (x *IdempotencyIndex) Lookup(ctx context.Context, userID, key string) (string, bool) {
	id, err := x.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Result()
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (x *IdempotencyIndex) Remember(ctx context.Context, userID, key, orderID string) error {
	return x.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, TTLIdempotency).Err()
}
