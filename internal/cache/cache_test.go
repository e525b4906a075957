package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedisCache(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Ping(ctx))

	_, err = c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// Entries expire with their TTL.
	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k2", []byte("v2"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k2"))
	_, err = c.Get(ctx, "k2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisCacheConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), addr, "", 0)

	require.Error(t, err)
}

func TestInMemoryCache(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}
