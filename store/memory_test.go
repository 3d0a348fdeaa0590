package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/types"
)

func newTestMemoryStore(t *testing.T) types.DurableStore {
	t.Helper()

	s, err := NewMemoryStore(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	t.Cleanup(func() {
		_ = s.Stop()
	})

	return s
}

func TestMemoryStorePutGet(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionCacheEntries))

	require.NoError(t, s.Put(ctx, types.CollectionCacheEntries, "a", []byte("payload")))

	value, err := s.Get(ctx, types.CollectionCacheEntries, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), value)

	_, err = s.Get(ctx, types.CollectionCacheEntries, "missing")
	assert.True(t, types.IsError(err, types.ErrStoreKeyNotFound))
}

func TestMemoryStoreUnknownCollection(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	err := s.Put(ctx, "nope", "a", []byte("x"))
	assert.True(t, types.IsError(err, types.ErrStoreCollectionUnknown))

	_, err = s.Get(ctx, "nope", "a")
	assert.True(t, types.IsError(err, types.ErrStoreCollectionUnknown))

	_, err = s.Count(ctx, "nope")
	assert.True(t, types.IsError(err, types.ErrStoreCollectionUnknown))
}

func TestMemoryStorePutOverwrites(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionCacheEntries))
	require.NoError(t, s.Put(ctx, types.CollectionCacheEntries, "a", []byte("first")))
	require.NoError(t, s.Put(ctx, types.CollectionCacheEntries, "a", []byte("second")))

	value, err := s.Get(ctx, types.CollectionCacheEntries, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), value)

	count, err := s.Count(ctx, types.CollectionCacheEntries)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionCacheEntries))
	require.NoError(t, s.Put(ctx, types.CollectionCacheEntries, "a", []byte("x")))

	require.NoError(t, s.Delete(ctx, types.CollectionCacheEntries, "a"))
	require.NoError(t, s.Delete(ctx, types.CollectionCacheEntries, "a"))

	_, err := s.Get(ctx, types.CollectionCacheEntries, "a")
	assert.True(t, types.IsError(err, types.ErrStoreKeyNotFound))
}

func TestMemoryStoreScanOrderAndFilter(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionMutationQueue))
	require.NoError(t, s.Put(ctx, types.CollectionMutationQueue, "c", []byte("3")))
	require.NoError(t, s.Put(ctx, types.CollectionMutationQueue, "a", []byte("1")))
	require.NoError(t, s.Put(ctx, types.CollectionMutationQueue, "b", []byte("2")))

	records, err := s.Scan(ctx, types.CollectionMutationQueue, nil)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].Key)
	assert.Equal(t, "b", records[1].Key)
	assert.Equal(t, "c", records[2].Key)

	records, err = s.Scan(ctx, types.CollectionMutationQueue, func(key string, value []byte) bool {
		return key != "b"
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Key)
	assert.Equal(t, "c", records[1].Key)
}

func TestMemoryStoreScanReturnsCopies(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionCacheEntries))
	require.NoError(t, s.Put(ctx, types.CollectionCacheEntries, "a", []byte("abc")))

	records, err := s.Scan(ctx, types.CollectionCacheEntries, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)

	records[0].Value[0] = 'z'

	value, err := s.Get(ctx, types.CollectionCacheEntries, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), value)
}

func TestMemoryStoreApply(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionMutationQueue))
	require.NoError(t, s.EnsureCollection(ctx, types.CollectionDomainRecords))

	ops := []types.StoreOp{
		{Kind: types.StoreOpPut, Collection: types.CollectionMutationQueue, Key: "m1", Value: []byte("mutation")},
		{Kind: types.StoreOpPut, Collection: types.CollectionDomainRecords, Key: "r1", Value: []byte("record")},
	}
	require.NoError(t, s.Apply(ctx, ops))

	value, err := s.Get(ctx, types.CollectionMutationQueue, "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("mutation"), value)

	value, err = s.Get(ctx, types.CollectionDomainRecords, "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("record"), value)
}

func TestMemoryStoreApplyValidatesBeforeWriting(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionMutationQueue))

	ops := []types.StoreOp{
		{Kind: types.StoreOpPut, Collection: types.CollectionMutationQueue, Key: "m1", Value: []byte("mutation")},
		{Kind: types.StoreOpPut, Collection: "unknown", Key: "r1", Value: []byte("record")},
	}
	err := s.Apply(ctx, ops)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrStoreCollectionUnknown))

	_, err = s.Get(ctx, types.CollectionMutationQueue, "m1")
	assert.True(t, types.IsError(err, types.ErrStoreKeyNotFound))
}

func TestMemoryStoreApplyEmptyBatch(t *testing.T) {
	s := newTestMemoryStore(t)

	err := s.Apply(context.Background(), nil)
	assert.True(t, types.IsError(err, types.ErrStoreBatchEmpty))
}

func TestMemoryStoreClear(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionCacheEntries))
	require.NoError(t, s.Put(ctx, types.CollectionCacheEntries, "a", []byte("1")))
	require.NoError(t, s.Put(ctx, types.CollectionCacheEntries, "b", []byte("2")))

	require.NoError(t, s.Clear(ctx, types.CollectionCacheEntries))

	count, err := s.Count(ctx, types.CollectionCacheEntries)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryStoreEnsureCollectionIdempotent(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionCacheEntries))
	require.NoError(t, s.Put(ctx, types.CollectionCacheEntries, "a", []byte("1")))

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionCacheEntries))

	value, err := s.Get(ctx, types.CollectionCacheEntries, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)
}
