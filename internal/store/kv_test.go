package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	return NewRedisKV(c), mr
}

func TestRedisKV_MissAndTTL(t *testing.T) {
	ctx := context.Background()
	kv, mr := newRedisKV(t)

	_, err := kv.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestDelPattern(t *testing.T) {
	ctx := context.Background()
	redisKV, _ := newRedisKV(t)

	for name, kv := range map[string]KV{"redis": redisKV, "memory": NewMemoryKV()} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, SetJSON(ctx, kv, "ledger:dashboard:p1:2024-05-01", map[string]int{"n": 1}, 0))
			require.NoError(t, SetJSON(ctx, kv, "ledger:dashboard:p1:2024-05-02", map[string]int{"n": 2}, 0))
			require.NoError(t, SetJSON(ctx, kv, "ledger:dashboard:p2:2024-05-01", map[string]int{"n": 3}, 0))

			require.NoError(t, DelPattern(ctx, kv, "ledger:dashboard:p1:*"))

			var got map[string]int
			assert.ErrorIs(t, GetJSON(ctx, kv, "ledger:dashboard:p1:2024-05-01", &got), ErrMiss)
			require.NoError(t, GetJSON(ctx, kv, "ledger:dashboard:p2:2024-05-01", &got))
			assert.Equal(t, 3, got["n"])
		})
	}
}

func TestMemoryKV_Expiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(ctx, "k", "v", time.Second))
	now = now.Add(time.Second)
	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}
