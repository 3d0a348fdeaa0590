package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/saiset-co/sai-sync/types"
)

// MemoryStore keeps collections in process memory. Nothing survives a
// restart; it exists for tests and ephemeral runs.
type MemoryStore struct {
	collections map[string]map[string][]byte
	mutex       sync.RWMutex
	logger      types.Logger
	config      *types.StoreConfig
	state       atomic.Value
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.DurableStore, error) {
	ms := &MemoryStore{
		collections: make(map[string]map[string][]byte),
		logger:      logger,
		config:      config,
	}

	ms.state.Store(StateStopped)
	return ms, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	m.logger.Info("Memory store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.mutex.Lock()
	m.collections = make(map[string]map[string][]byte)
	m.mutex.Unlock()

	m.logger.Info("Memory store stopped gracefully")
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryStore) EnsureCollection(ctx context.Context, collection string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.collections[collection]; !exists {
		m.collections[collection] = make(map[string][]byte)
	}

	return nil
}

func (m *MemoryStore) Put(ctx context.Context, collection, key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	coll, exists := m.collections[collection]
	if !exists {
		return types.Errorf(types.ErrStoreCollectionUnknown, "%s", collection)
	}

	coll[key] = copyBytes(value)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	coll, exists := m.collections[collection]
	if !exists {
		return nil, types.Errorf(types.ErrStoreCollectionUnknown, "%s", collection)
	}

	value, found := coll[key]
	if !found {
		return nil, types.Errorf(types.ErrStoreKeyNotFound, "%s/%s", collection, key)
	}

	return copyBytes(value), nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	coll, exists := m.collections[collection]
	if !exists {
		return types.Errorf(types.ErrStoreCollectionUnknown, "%s", collection)
	}

	delete(coll, key)
	return nil
}

func (m *MemoryStore) Scan(ctx context.Context, collection string, filter types.StoredRecordFilter) ([]types.StoredRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	coll, exists := m.collections[collection]
	if !exists {
		return nil, types.Errorf(types.ErrStoreCollectionUnknown, "%s", collection)
	}

	keys := make([]string, 0, len(coll))
	for key := range coll {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var records []types.StoredRecord
	for _, key := range keys {
		value := coll[key]
		if filter == nil || filter(key, value) {
			records = append(records, types.StoredRecord{Key: key, Value: copyBytes(value)})
		}
	}

	return records, nil
}

func (m *MemoryStore) Apply(ctx context.Context, ops []types.StoreOp) error {
	if len(ops) == 0 {
		return types.ErrStoreBatchEmpty
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, op := range ops {
		if _, exists := m.collections[op.Collection]; !exists {
			return types.Errorf(types.ErrStoreCollectionUnknown, "%s", op.Collection)
		}
		if op.Kind != types.StoreOpPut && op.Kind != types.StoreOpDelete {
			return types.Errorf(types.ErrInvalidParameter, "op kind: %d", op.Kind)
		}
	}

	for _, op := range ops {
		coll := m.collections[op.Collection]
		switch op.Kind {
		case types.StoreOpPut:
			coll[op.Key] = copyBytes(op.Value)
		case types.StoreOpDelete:
			delete(coll, op.Key)
		}
	}

	return nil
}

func (m *MemoryStore) Count(ctx context.Context, collection string) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	coll, exists := m.collections[collection]
	if !exists {
		return 0, types.Errorf(types.ErrStoreCollectionUnknown, "%s", collection)
	}

	return int64(len(coll)), nil
}

func (m *MemoryStore) Clear(ctx context.Context, collection string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.collections[collection]; !exists {
		return types.Errorf(types.ErrStoreCollectionUnknown, "%s", collection)
	}

	m.collections[collection] = make(map[string][]byte)
	return nil
}

func copyBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}

func (m *MemoryStore) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryStore) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
