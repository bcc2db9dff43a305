package cart

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_SetGetClear(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.SetQuantity(ctx, "u1", "p2", 3))
	require.NoError(t, store.SetQuantity(ctx, "u1", "p1", 1))
	require.NoError(t, store.SetQuantity(ctx, "u1", "p1", 4))

	c, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "p1", Quantity: 4}, {ProductID: "p2", Quantity: 3}}, c.Lines)
	assert.True(t, mr.TTL(cartKey("u1")) > 0)

	require.NoError(t, store.Clear(ctx, "u1"))
	assert.False(t, mr.Exists(cartKey("u1")))

	c, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
}

func TestRedisStore_ZeroQuantityRemovesLine(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.SetQuantity(ctx, "u1", "p1", 2))
	require.NoError(t, store.SetQuantity(ctx, "u1", "p2", 2))
	require.NoError(t, store.SetQuantity(ctx, "u1", "p1", 0))

	c, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "p2", Quantity: 2}}, c.Lines)
}

func TestRedisStore_CorruptLine(t *testing.T) {
	store, mr := setupTestRedis(t)
	mr.HSet(cartKey("u1"), "p1", "lots")

	_, err := store.Get(context.Background(), "u1")
	assert.Error(t, err)
}
