package sdk_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	cache, err := sdk.NewMemoryCache(2)
	require.NoError(t, err)

	_, ok, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "b", "2"))
	require.NoError(t, cache.Set(ctx, "a", "1"))
	keys, err := cache.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, cache.Set(ctx, "c", "3"))
	assert.Equal(t, 2, cache.Len(), "least recently used key is evicted")
	_, ok, _ = cache.Get(ctx, "b")
	assert.False(t, ok)

	require.NoError(t, cache.Delete(ctx, "a"))
	require.NoError(t, cache.Delete(ctx, "a"), "deleting a missing key is not an error")
	v, ok, _ := cache.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestPurgeRoleEntries(t *testing.T) {
	ctx := context.Background()
	cache, err := sdk.NewMemoryCache(0)
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, cache.Set(ctx, sdk.RoleCacheKey(fmt.Sprintf("p%d@shop.test", i)), "{}"))
	}
	require.NoError(t, cache.Set(ctx, "cart_items", "[]"))
	require.NoError(t, cache.Set(ctx, "roles_banner_dismissed", "true"))

	removed, err := sdk.PurgeRoleEntries(ctx, cache)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	keys, err := cache.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cart_items", "roles_banner_dismissed"}, keys)
}
