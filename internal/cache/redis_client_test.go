package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientSetGet(t *testing.T) {
	c := NewMemoryClient(100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	val, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)
}

func TestMemoryClientMiss(t *testing.T) {
	c := NewMemoryClient(100)
	defer c.Close()

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientExpiry(t *testing.T) {
	c := NewMemoryClient(100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientDeleteByPrefix(t *testing.T) {
	c := NewMemoryClient(100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "z:tulum:d:fuego:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "z:tulum:d:fuego:b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "z:merida:d:norte:a", []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, "z:tulum:"))

	_, err := c.Get(ctx, "z:tulum:d:fuego:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "z:tulum:d:fuego:b")
	assert.ErrorIs(t, err, ErrCacheMiss)

	val, err := c.Get(ctx, "z:merida:d:norte:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), val)
}

func TestMemoryClientEviction(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 2*time.Minute))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 3*time.Minute))

	// "a" expires earliest, so it gets evicted first
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "a:b:c", CacheKey("a", "b", "c"))
	assert.Equal(t, "z:tulum:d:fuego:notes", ScopeCacheKey("tulum", "fuego", "notes"))
}
