package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/store"
	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

func newTestLayeredCache(t *testing.T, config *types.CacheConfig) (types.CacheManager, types.DurableStore, types.CacheTier) {
	t.Helper()

	ctx := context.Background()
	log := logger.NewZapWrapper(zap.NewNop())

	if config == nil {
		config = &types.CacheConfig{Enabled: true, Type: "memory"}
	}

	durable, err := store.NewMemoryStore(ctx, log, &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, durable.Start())

	hot, err := NewMemoryTier(ctx, log, config)
	require.NoError(t, err)

	cache, err := NewLayeredCache(ctx, log, config, durable, hot)
	require.NoError(t, err)
	require.NoError(t, cache.Start())

	t.Cleanup(func() {
		_ = cache.Stop()
		_ = durable.Stop()
	})

	return cache, durable, hot
}

func TestLayeredCacheRoundTrip(t *testing.T) {
	cache, _, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	opts := &types.CacheOptions{
		ContentType:  "application/json",
		TTL:          time.Minute,
		ETag:         `"v1"`,
		LastModified: "Mon, 24 Aug 2026 10:00:00 GMT",
	}
	require.NoError(t, cache.CacheResponse(ctx, "expenses/list", []byte(`{"items":[]}`), opts))

	entry, err := cache.GetCachedResponse(ctx, "expenses/list")
	require.NoError(t, err)
	assert.Equal(t, "expenses/list", entry.Key)
	assert.Equal(t, []byte(`{"items":[]}`), entry.Payload)
	assert.Equal(t, "application/json", entry.ContentType)
	assert.Equal(t, `"v1"`, entry.ETag)
	assert.Equal(t, "Mon, 24 Aug 2026 10:00:00 GMT", entry.LastModified)
	assert.Equal(t, int64(len(`{"items":[]}`)), entry.SizeBytes)
}

func TestLayeredCacheMiss(t *testing.T) {
	cache, _, _ := newTestLayeredCache(t, nil)

	_, err := cache.GetCachedResponse(context.Background(), "never-written")
	assert.True(t, types.IsError(err, types.ErrCacheEntryNotFound))
}

func TestLayeredCacheDefaultTTL(t *testing.T) {
	cache, _, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "k", []byte("v"), nil))

	entry, err := cache.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, entry.ExpiresAt.Sub(entry.CreatedAt))
}

func TestLayeredCacheNegativeTTLWritesExpiredEntry(t *testing.T) {
	cache, durable, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "k", []byte("v"), &types.CacheOptions{TTL: -time.Second}))

	// The entry is written durably but is immediately expired.
	count, err := durable.Count(ctx, types.CollectionCacheEntries)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = cache.GetCachedResponse(ctx, "k")
	assert.True(t, types.IsError(err, types.ErrCacheEntryNotFound))

	// The expired hit is deleted best-effort on read.
	count, err = durable.Count(ctx, types.CollectionCacheEntries)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLayeredCacheTTLExpiry(t *testing.T) {
	cache, _, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "k", []byte("v"), &types.CacheOptions{TTL: 50 * time.Millisecond}))

	entry, err := cache.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), entry.Payload)

	time.Sleep(100 * time.Millisecond)

	_, err = cache.GetCachedResponse(ctx, "k")
	assert.True(t, types.IsError(err, types.ErrCacheEntryNotFound))
}

func TestLayeredCacheRewriteReplaces(t *testing.T) {
	cache, _, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "k", []byte("old"), &types.CacheOptions{ETag: `"v1"`}))
	require.NoError(t, cache.CacheResponse(ctx, "k", []byte("new"), &types.CacheOptions{ETag: `"v2"`}))

	entry, err := cache.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), entry.Payload)
	assert.Equal(t, `"v2"`, entry.ETag)
}

func TestLayeredCacheHotTierSizeGate(t *testing.T) {
	cache, _, hot := newTestLayeredCache(t, nil)
	ctx := context.Background()

	big := bytes.Repeat([]byte{0x42}, hotPayloadLimit)

	require.NoError(t, cache.CacheResponse(ctx, "small", []byte("tiny"), nil))
	require.NoError(t, cache.CacheResponse(ctx, "big", big, nil))

	assert.Equal(t, 1, hot.Len(ctx))

	// Large entries are still served from the durable tier.
	entry, err := cache.GetCachedResponse(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, big, entry.Payload)

	// Reads never promote entries above the size limit.
	assert.Equal(t, 1, hot.Len(ctx))
}

func TestLayeredCacheLargeRewriteEvictsHotEntry(t *testing.T) {
	cache, _, hot := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "k", []byte("small"), nil))
	assert.Equal(t, 1, hot.Len(ctx))

	big := bytes.Repeat([]byte{0x42}, hotPayloadLimit)
	require.NoError(t, cache.CacheResponse(ctx, "k", big, nil))
	assert.Equal(t, 0, hot.Len(ctx))

	entry, err := cache.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, big, entry.Payload)
}

func TestLayeredCacheSurvivesHotTierLoss(t *testing.T) {
	cache, _, hot := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "k", []byte("v"), nil))
	require.NoError(t, hot.Clear(ctx))

	entry, err := cache.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), entry.Payload)

	// The durable hit is promoted back into the hot tier.
	assert.Equal(t, 1, hot.Len(ctx))
}

func TestLayeredCacheCompressionRoundTrip(t *testing.T) {
	cache, durable, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("offline-first "), 1024)
	require.NoError(t, cache.CacheResponse(ctx, "k", payload, nil))

	raw, err := durable.Get(ctx, types.CollectionCacheEntries, "k")
	require.NoError(t, err)

	var stored storedEntry
	require.NoError(t, utils.Unmarshal(raw, &stored))
	assert.Equal(t, encodingBrotli, stored.Encoding)
	assert.Less(t, len(stored.Payload), len(payload))
	assert.Equal(t, int64(len(payload)), stored.SizeBytes)

	entry, err := cache.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, payload, entry.Payload)
}

func TestLayeredCacheSmallPayloadNotCompressed(t *testing.T) {
	cache, durable, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "k", []byte("short"), nil))

	raw, err := durable.Get(ctx, types.CollectionCacheEntries, "k")
	require.NoError(t, err)

	var stored storedEntry
	require.NoError(t, utils.Unmarshal(raw, &stored))
	assert.Empty(t, stored.Encoding)
	assert.Equal(t, []byte("short"), stored.Payload)
}

func TestLayeredCacheCorruptEntryDroppedAsMiss(t *testing.T) {
	cache, durable, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, durable.Put(ctx, types.CollectionCacheEntries, "bad", []byte("not json")))

	_, err := cache.GetCachedResponse(ctx, "bad")
	assert.True(t, types.IsError(err, types.ErrCacheEntryNotFound))

	count, err := durable.Count(ctx, types.CollectionCacheEntries)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLayeredCacheInvalidate(t *testing.T) {
	cache, _, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "a", []byte("1"), nil))
	require.NoError(t, cache.CacheResponse(ctx, "b", []byte("2"), nil))

	require.NoError(t, cache.Invalidate(ctx, "a"))

	_, err := cache.GetCachedResponse(ctx, "a")
	assert.True(t, types.IsError(err, types.ErrCacheEntryNotFound))

	entry, err := cache.GetCachedResponse(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), entry.Payload)
}

func TestLayeredCacheClearAndSize(t *testing.T) {
	cache, _, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "a", []byte("1"), nil))
	require.NoError(t, cache.CacheResponse(ctx, "b", []byte("2"), nil))

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	require.NoError(t, cache.Clear(ctx))

	size, err = cache.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	_, err = cache.GetCachedResponse(ctx, "a")
	assert.True(t, types.IsError(err, types.ErrCacheEntryNotFound))
}

func TestLayeredCacheSweepExpired(t *testing.T) {
	cache, _, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	require.NoError(t, cache.CacheResponse(ctx, "dead", []byte("1"), &types.CacheOptions{TTL: -time.Second}))
	require.NoError(t, cache.CacheResponse(ctx, "dying", []byte("2"), &types.CacheOptions{TTL: 50 * time.Millisecond}))
	require.NoError(t, cache.CacheResponse(ctx, "alive", []byte("3"), &types.CacheOptions{TTL: time.Hour}))

	time.Sleep(100 * time.Millisecond)

	swept, err := cache.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	entry, err := cache.GetCachedResponse(ctx, "alive")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), entry.Payload)
}

func TestLayeredCacheEmptyKey(t *testing.T) {
	cache, _, _ := newTestLayeredCache(t, nil)
	ctx := context.Background()

	err := cache.CacheResponse(ctx, "", []byte("v"), nil)
	assert.True(t, types.IsError(err, types.ErrCacheKeyEmpty))

	_, err = cache.GetCachedResponse(ctx, "")
	assert.True(t, types.IsError(err, types.ErrCacheKeyEmpty))
}

func TestLayeredCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	log := logger.NewZapWrapper(zap.NewNop())
	config := &types.CacheConfig{Enabled: true, Type: "memory"}

	durable, err := store.NewMemoryStore(ctx, log, &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, durable.Start())
	defer func() { _ = durable.Stop() }()

	hot, err := NewMemoryTier(ctx, log, config)
	require.NoError(t, err)

	cache, err := NewLayeredCache(ctx, log, config, durable, hot)
	require.NoError(t, err)

	assert.False(t, cache.IsRunning())
	require.NoError(t, cache.Start())
	assert.True(t, cache.IsRunning())

	assert.True(t, types.IsError(cache.Start(), types.ErrComponentAlreadyRunning))

	require.NoError(t, cache.Stop())
	assert.False(t, cache.IsRunning())

	assert.True(t, types.IsError(cache.Stop(), types.ErrComponentNotRunning))
}
