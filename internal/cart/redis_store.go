package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each cart as a hash of product_id -> quantity.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: redisx.TTLCart}
}

func cartKey(userID string) string {
	return fmt.Sprintf(redisx.KeyCart, userID)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Cart, error) {
	m, err := s.client.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return Cart{}, fmt.Errorf("redis hgetall failed: %w", err)
	}
	c := Cart{UserID: userID, Lines: make([]Line, 0, len(m))}
	for pid, v := range m {
		qty, err := strconv.Atoi(v)
		if err != nil {
			return Cart{}, fmt.Errorf("corrupt cart line %s: %w", pid, err)
		}
		c.Lines = append(c.Lines, Line{ProductID: pid, Quantity: qty})
	}
	sort.Slice(c.Lines, func(i, j int) bool { return c.Lines[i].ProductID < c.Lines[j].ProductID })
	return c, nil
}

// SetQuantity upserts a line; qty <= 0 removes it.
func (s *RedisStore) SetQuantity(ctx context.Context, userID, productID string, qty int) error {
	key := cartKey(userID)
	if qty <= 0 {
		if err := s.client.HDel(ctx, key, productID).Err(); err != nil {
			return fmt.Errorf("redis hdel failed: %w", err)
		}
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, productID, qty)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
