package types

import (
	"context"
)

const (
	CollectionCacheEntries     = "cache_entries"
	CollectionMutationQueue    = "mutation_queue"
	CollectionMutationFailures = "mutation_failures"
	CollectionDomainRecords    = "domain_records"
	CollectionWebhooks         = "webhook_subscriptions"
)

const (
	StoreOpPut StoreOpKind = iota
	StoreOpDelete
)

// DurableStore is the crash-safe key/value tier every stateful component
// writes through. Scan returns records in ascending key order; Apply executes
// the whole batch atomically or not at all (the clover backend degrades to
// ordered sequential writes, see store/clover.go).
type DurableStore interface {
	LifecycleManager
	Put(ctx context.Context, collection, key string, value []byte) error
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Delete(ctx context.Context, collection, key string) error
	Scan(ctx context.Context, collection string, filter StoredRecordFilter) ([]StoredRecord, error)
	Apply(ctx context.Context, ops []StoreOp) error
	Count(ctx context.Context, collection string) (int64, error)
	Clear(ctx context.Context, collection string) error
	EnsureCollection(ctx context.Context, collection string) error
}

type StoredRecordFilter func(key string, value []byte) bool

type StoredRecord struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type StoreOpKind int

type StoreOp struct {
	Kind       StoreOpKind `json:"kind"`
	Collection string      `json:"collection"`
	Key        string      `json:"key"`
	Value      []byte      `json:"value,omitempty"`
}

type DurableStoreCreator func(config interface{}) (DurableStore, error)
