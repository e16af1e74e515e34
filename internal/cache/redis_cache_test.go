package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb), mr
}

func TestRedisCache_RoundTripAndTTL(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	type blob struct {
		N int `json:"n"`
	}
	require.NoError(t, c.SetJSON(ctx, "k", blob{N: 7}, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	var got blob
	hit, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 7, got.N)

	n, err := c.Exists(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Del(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hit, err = c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCache_CorruptValueIsMiss(t *testing.T) {
	c, mr := newCache(t)
	require.NoError(t, mr.Set("k", "{broken"))

	var dst map[string]any
	hit, err := c.GetJSON(context.Background(), "k", &dst)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists("k"))
}

func TestRedisCache_EmptyKeys(t *testing.T) {
	c, _ := newCache(t)
	n, err := c.Del(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
	n, err = c.Exists(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
}
