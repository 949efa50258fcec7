package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinical-scheduling/internal/config"
)

func newTestStore(t *testing.T, ttl time.Duration) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyStore(client, ttl), mr
}

func TestIdempotencyStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()
	tenant := uuid.New()
	id := uuid.New()

	_, ok, err := store.Lookup(ctx, tenant, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Remember(ctx, tenant, "req-1", id))

	got, ok, err := store.Lookup(ctx, tenant, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	// First writer wins.
	require.NoError(t, store.Remember(ctx, tenant, "req-1", uuid.New()))
	got, _, err = store.Lookup(ctx, tenant, "req-1")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	// Keys are tenant scoped.
	_, ok, err = store.Lookup(ctx, uuid.New(), "req-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, time.Hour, mr.TTL(idempotencyKey(tenant, "req-1")))

	mr.FastForward(2 * time.Hour)
	_, ok, err = store.Lookup(ctx, tenant, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyStoreCorruptValue(t *testing.T) {
	store, mr := newTestStore(t, 0)
	tenant := uuid.New()
	require.NoError(t, mr.Set(idempotencyKey(tenant, "k"), "not-a-uuid"))

	_, _, err := store.Lookup(context.Background(), tenant, "k")
	require.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), config.Config{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.NotNil(t, client)
	_ = client.Close()

	client, err = NewRedisClient(context.Background(), config.Config{})
	require.NoError(t, err)
	assert.Nil(t, client)

	mr.Close()
	_, err = NewRedisClient(context.Background(), config.Config{RedisAddr: mr.Addr()})
	require.Error(t, err)
}
