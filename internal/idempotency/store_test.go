package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "webhook:", time.Hour), mr
}

func TestRedisStoreClaimOnce(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	first, err := store.Claim(ctx, "WH-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.Claim(ctx, "WH-1")
	require.NoError(t, err)
	assert.False(t, second)

	assert.True(t, mr.Exists("webhook:WH-1"))
	assert.Equal(t, time.Hour, mr.TTL("webhook:WH-1"))
}

func TestRedisStoreRelease(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Claim(ctx, "WH-2")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "WH-2"))

	again, err := store.Claim(ctx, "WH-2")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	_, err := store.Claim(ctx, "WH-3")
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	again, err := store.Claim(ctx, "WH-3")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.Claim(context.Background(), "WH-4")
	assert.Error(t, err)
}

func TestNoopStore(t *testing.T) {
	ok, err := NoopStore{}.Claim(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, NoopStore{}.Release(context.Background(), "x"))
}
