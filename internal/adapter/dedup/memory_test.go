package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

func TestKey_DeterministicOverBytes(t *testing.T) {
	a := Key([]byte(`{"message":"hi"}`))
	b := Key([]byte(`{"message":"hi"}`))
	c := Key([]byte(`{"message": "hi"}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestMemoryCache_StoreLookup(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)

	_, ok, err := c.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, domain.CacheEntry{Key: "k1", StatusCode: 200, Response: []byte(`{"a":1}`)}))
	e, ok, err := c.Lookup(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(e.Response))
	assert.False(t, e.CreatedAt.IsZero())
}

func TestMemoryCache_EvictsOldestInserted(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)
	for i := 0; i < 11; i++ {
		require.NoError(t, c.Store(ctx, domain.CacheEntry{Key: fmt.Sprintf("k%d", i), Response: []byte("{}")}))
	}
	assert.Equal(t, 10, c.Len())
	_, ok, _ := c.Lookup(ctx, "k0")
	assert.False(t, ok, "first inserted entry should be evicted")
	for i := 1; i < 11; i++ {
		_, ok, _ := c.Lookup(ctx, fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should remain", i)
	}
}

func TestMemoryCache_OverwriteRefreshesInsertion(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2)
	require.NoError(t, c.Store(ctx, domain.CacheEntry{Key: "a", Response: []byte("1")}))
	require.NoError(t, c.Store(ctx, domain.CacheEntry{Key: "b", Response: []byte("2")}))
	require.NoError(t, c.Store(ctx, domain.CacheEntry{Key: "a", Response: []byte("3")}))
	require.NoError(t, c.Store(ctx, domain.CacheEntry{Key: "c", Response: []byte("4")}))

	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.Lookup(ctx, "b")
	assert.False(t, ok)
	e, ok, _ := c.Lookup(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "3", string(e.Response))
}

func TestMemoryCache_RejectsEmptyKey(t *testing.T) {
	c := NewMemoryCache(0)
	err := c.Store(context.Background(), domain.CacheEntry{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestMemoryCache_ConcurrentStoresNeverExceedCapacity(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = c.Store(ctx, domain.CacheEntry{Key: fmt.Sprintf("g%d-%d", g, i), CreatedAt: time.Now()})
				_, _, _ = c.Lookup(ctx, fmt.Sprintf("g%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}
