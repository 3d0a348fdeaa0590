package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/types"
)

func newTestMemoryTier(t *testing.T, maxEntries int64) types.CacheTier {
	t.Helper()

	tier, err := NewMemoryTier(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.CacheConfig{
		Enabled:       true,
		Type:          "memory",
		HotEntryLimit: maxEntries,
	})
	require.NoError(t, err)
	require.NoError(t, tier.Start())

	t.Cleanup(func() {
		_ = tier.Stop()
	})

	return tier
}

func tierEntry(key string, createdAt time.Time) *types.CacheEntry {
	return &types.CacheEntry{
		Key:       key,
		Payload:   []byte(key),
		CreatedAt: createdAt,
		ExpiresAt: time.Now().Add(time.Hour),
		SizeBytes: int64(len(key)),
	}
}

func TestMemoryTierSetGet(t *testing.T) {
	tier := newTestMemoryTier(t, 10)
	ctx := context.Background()

	require.NoError(t, tier.Set(ctx, tierEntry("a", time.Now())))

	entry, exists := tier.Get(ctx, "a")
	require.True(t, exists)
	assert.Equal(t, []byte("a"), entry.Payload)

	_, exists = tier.Get(ctx, "missing")
	assert.False(t, exists)
}

func TestMemoryTierFIFOEviction(t *testing.T) {
	tier := newTestMemoryTier(t, 3)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, tier.Set(ctx, tierEntry("oldest", now.Add(-3*time.Minute))))
	require.NoError(t, tier.Set(ctx, tierEntry("older", now.Add(-2*time.Minute))))
	require.NoError(t, tier.Set(ctx, tierEntry("old", now.Add(-time.Minute))))

	require.NoError(t, tier.Set(ctx, tierEntry("new", now)))

	assert.Equal(t, 3, tier.Len(ctx))

	_, exists := tier.Get(ctx, "oldest")
	assert.False(t, exists)

	for _, key := range []string{"older", "old", "new"} {
		_, exists := tier.Get(ctx, key)
		assert.True(t, exists, key)
	}
}

func TestMemoryTierOverwriteDoesNotEvict(t *testing.T) {
	tier := newTestMemoryTier(t, 2)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, tier.Set(ctx, tierEntry("a", now.Add(-time.Minute))))
	require.NoError(t, tier.Set(ctx, tierEntry("b", now)))

	require.NoError(t, tier.Set(ctx, tierEntry("b", now)))

	assert.Equal(t, 2, tier.Len(ctx))

	_, exists := tier.Get(ctx, "a")
	assert.True(t, exists)
}

func TestMemoryTierExpiredEntryEvictedOnGet(t *testing.T) {
	tier := newTestMemoryTier(t, 10)
	ctx := context.Background()

	entry := tierEntry("a", time.Now())
	entry.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, tier.Set(ctx, entry))

	assert.Equal(t, 1, tier.Len(ctx))

	_, exists := tier.Get(ctx, "a")
	assert.False(t, exists)

	assert.Equal(t, 0, tier.Len(ctx))
}

func TestMemoryTierDeleteAndClear(t *testing.T) {
	tier := newTestMemoryTier(t, 10)
	ctx := context.Background()

	require.NoError(t, tier.Set(ctx, tierEntry("a", time.Now())))
	require.NoError(t, tier.Set(ctx, tierEntry("b", time.Now())))

	require.NoError(t, tier.Delete(ctx, "a"))
	require.NoError(t, tier.Delete(ctx, "a"))

	_, exists := tier.Get(ctx, "a")
	assert.False(t, exists)

	require.NoError(t, tier.Clear(ctx))
	assert.Equal(t, 0, tier.Len(ctx))
}

func TestMemoryTierRejectsEmptyKey(t *testing.T) {
	tier := newTestMemoryTier(t, 10)
	ctx := context.Background()

	err := tier.Set(ctx, nil)
	assert.True(t, types.IsError(err, types.ErrCacheKeyEmpty))

	err = tier.Set(ctx, &types.CacheEntry{})
	assert.True(t, types.IsError(err, types.ErrCacheKeyEmpty))

	_, exists := tier.Get(ctx, "")
	assert.False(t, exists)
}

func TestMemoryTierLifecycle(t *testing.T) {
	tier, err := NewMemoryTier(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.CacheConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)

	assert.False(t, tier.IsRunning())
	require.NoError(t, tier.Start())
	assert.True(t, tier.IsRunning())

	assert.True(t, types.IsError(tier.Start(), types.ErrComponentAlreadyRunning))

	require.NoError(t, tier.Stop())
	assert.False(t, tier.IsRunning())

	assert.True(t, types.IsError(tier.Stop(), types.ErrComponentNotRunning))
}
