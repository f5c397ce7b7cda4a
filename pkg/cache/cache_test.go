package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCacheSetGet(t *testing.T) {
	c := NewLocalCache(LocalConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "epoch:42", int64(1700000000), time.Minute))

	v, ok := c.Get(ctx, "epoch:42")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), v)
	assert.True(t, c.Exists(ctx, "epoch:42"))
}

func TestLocalCacheExpiration(t *testing.T) {
	c := NewLocalCache(LocalConfig{DefaultExpiration: time.Minute, CleanupInterval: time.Minute})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLocalCacheDeleteAndClear(t *testing.T) {
	c := NewLocalCache(LocalConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "b", 2, time.Minute))

	require.NoError(t, c.Delete(ctx, "a"))
	assert.False(t, c.Exists(ctx, "a"))
	assert.True(t, c.Exists(ctx, "b"))

	require.NoError(t, c.Clear(ctx))
	assert.False(t, c.Exists(ctx, "b"))
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := NewCache(Config{Type: "memcached"})
	assert.Error(t, err)
}

func TestFactoryDefaultsToLocal(t *testing.T) {
	c, err := NewCache(Config{})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
