package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/types"
)

func newTestSQLiteStore(t *testing.T) types.DurableStore {
	t.Helper()

	config := &types.StoreConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "test.db"),
	}

	s, err := NewSQLiteStore(context.Background(), logger.NewZapWrapper(zap.NewNop()), config)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	t.Cleanup(func() {
		_ = s.Stop()
	})

	return s
}

func TestSQLiteStorePutGetDelete(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionCacheEntries))

	require.NoError(t, s.Put(ctx, types.CollectionCacheEntries, "a", []byte("payload")))

	value, err := s.Get(ctx, types.CollectionCacheEntries, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), value)

	require.NoError(t, s.Delete(ctx, types.CollectionCacheEntries, "a"))
	require.NoError(t, s.Delete(ctx, types.CollectionCacheEntries, "a"))

	_, err = s.Get(ctx, types.CollectionCacheEntries, "a")
	assert.True(t, types.IsError(err, types.ErrStoreKeyNotFound))
}

func TestSQLiteStoreUpsert(t *testing.T) {
	s := newTestSQLiteStore(t)
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

func TestSQLiteStoreUnknownCollection(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	err := s.Put(ctx, "never_ensured", "a", []byte("x"))
	assert.True(t, types.IsError(err, types.ErrStoreCollectionUnknown))
}

func TestSQLiteStoreRejectsInvalidCollectionName(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.EnsureCollection(context.Background(), "bad name; DROP TABLE x")
	assert.True(t, types.IsError(err, types.ErrInvalidParameter))
}

func TestSQLiteStoreScanOrder(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionMutationQueue))
	require.NoError(t, s.Put(ctx, types.CollectionMutationQueue, "00000000000000000003", []byte("3")))
	require.NoError(t, s.Put(ctx, types.CollectionMutationQueue, "00000000000000000001", []byte("1")))
	require.NoError(t, s.Put(ctx, types.CollectionMutationQueue, "00000000000000000002", []byte("2")))

	records, err := s.Scan(ctx, types.CollectionMutationQueue, nil)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []byte("1"), records[0].Value)
	assert.Equal(t, []byte("2"), records[1].Value)
	assert.Equal(t, []byte("3"), records[2].Value)
}

func TestSQLiteStoreApplyAtomic(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionMutationQueue))
	require.NoError(t, s.EnsureCollection(ctx, types.CollectionDomainRecords))

	ops := []types.StoreOp{
		{Kind: types.StoreOpPut, Collection: types.CollectionMutationQueue, Key: "m1", Value: []byte("mutation")},
		{Kind: types.StoreOpPut, Collection: types.CollectionDomainRecords, Key: "r1", Value: []byte("record")},
		{Kind: types.StoreOpDelete, Collection: types.CollectionMutationQueue, Key: "m0"},
	}
	require.NoError(t, s.Apply(ctx, ops))

	value, err := s.Get(ctx, types.CollectionMutationQueue, "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("mutation"), value)

	value, err = s.Get(ctx, types.CollectionDomainRecords, "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("record"), value)
}

func TestSQLiteStoreApplyRollsBackOnInvalidOp(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, types.CollectionMutationQueue))

	ops := []types.StoreOp{
		{Kind: types.StoreOpPut, Collection: types.CollectionMutationQueue, Key: "m1", Value: []byte("mutation")},
		{Kind: types.StoreOpKind(99), Collection: types.CollectionMutationQueue, Key: "m2"},
	}
	err := s.Apply(ctx, ops)
	require.Error(t, err)

	_, err = s.Get(ctx, types.CollectionMutationQueue, "m1")
	assert.True(t, types.IsError(err, types.ErrStoreKeyNotFound))
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")
	config := &types.StoreConfig{Type: "sqlite", Path: path}
	log := logger.NewZapWrapper(zap.NewNop())

	s, err := NewSQLiteStore(ctx, log, config)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.EnsureCollection(ctx, types.CollectionMutationQueue))
	require.NoError(t, s.Put(ctx, types.CollectionMutationQueue, "m1", []byte("survives")))
	require.NoError(t, s.Stop())

	reopened, err := NewSQLiteStore(ctx, log, config)
	require.NoError(t, err)
	require.NoError(t, reopened.Start())
	defer func() { _ = reopened.Stop() }()

	require.NoError(t, reopened.EnsureCollection(ctx, types.CollectionMutationQueue))

	value, err := reopened.Get(ctx, types.CollectionMutationQueue, "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("survives"), value)
}
