package records

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

// Manager keeps locally created domain records with their sync state. The
// byID and byHash indexes are views over the domain_records collection and
// are rebuilt by Load after a restart.
type Manager struct {
	ctx     context.Context
	logger  types.Logger
	store   types.DurableStore
	byID    map[string]*types.LocalDomainRecord
	byHash  map[string]*types.LocalDomainRecord
	mu      sync.RWMutex
	started int32
}

func NewManager(ctx context.Context, logger types.Logger, store types.DurableStore) *Manager {
	return &Manager{
		ctx:    ctx,
		logger: logger,
		store:  store,
		byID:   make(map[string]*types.LocalDomainRecord),
		byHash: make(map[string]*types.LocalDomainRecord),
	}
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	if err := m.store.EnsureCollection(m.ctx, types.CollectionDomainRecords); err != nil {
		atomic.StoreInt32(&m.started, 0)
		return types.WrapError(err, "failed to ensure records collection")
	}

	if err := m.Load(m.ctx); err != nil {
		atomic.StoreInt32(&m.started, 0)
		return err
	}

	m.mu.RLock()
	total := len(m.byID)
	m.mu.RUnlock()

	m.logger.Info("Record store started", zap.Int("records", total))
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	m.mu.Lock()
	m.byID = make(map[string]*types.LocalDomainRecord)
	m.byHash = make(map[string]*types.LocalDomainRecord)
	m.mu.Unlock()

	m.logger.Info("Record store stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

// PrepareInsert normalizes rec in place and returns the put that persists it.
// The caller decides which batch the put rides in; CommitInsert must follow a
// successful write.
func (m *Manager) PrepareInsert(rec *types.LocalDomainRecord) (types.StoreOp, error) {
	if rec == nil {
		return types.StoreOp{}, types.Errorf(types.ErrInvalidParameter, "record is nil")
	}

	if rec.LocalID == "" {
		rec.LocalID = uuid.New().String()
	}
	if rec.SyncHash == "" {
		hash, err := utils.ContentHash(rec.Fields)
		if err != nil {
			return types.StoreOp{}, types.WrapError(err, "failed to hash record fields")
		}
		rec.SyncHash = hash
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.IsSynced = false
	rec.SyncedAt = time.Time{}

	value, err := utils.Marshal(rec)
	if err != nil {
		return types.StoreOp{}, types.WrapError(err, "failed to marshal record")
	}

	return types.StoreOp{
		Kind:       types.StoreOpPut,
		Collection: types.CollectionDomainRecords,
		Key:        rec.LocalID,
		Value:      value,
	}, nil
}

// CommitInsert indexes a record whose row is already persisted. The manager
// takes ownership of rec.
func (m *Manager) CommitInsert(rec *types.LocalDomainRecord) {
	if rec == nil {
		return
	}

	m.mu.Lock()
	m.byID[rec.LocalID] = rec
	m.byHash[rec.SyncHash] = rec
	m.mu.Unlock()
}

func (m *Manager) Save(ctx context.Context, rec *types.LocalDomainRecord) error {
	if rec == nil {
		return types.Errorf(types.ErrInvalidParameter, "record is nil")
	}

	op, err := m.PrepareInsert(rec)
	if err != nil {
		return err
	}

	if err := m.store.Put(ctx, op.Collection, op.Key, op.Value); err != nil {
		return err
	}

	m.CommitInsert(rec.Clone())

	m.logger.Debug("Record saved",
		zap.String("local_id", rec.LocalID),
		zap.String("kind", rec.Kind))
	return nil
}

func (m *Manager) Get(ctx context.Context, localID string) (*types.LocalDomainRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.byID[localID]
	if !exists {
		return nil, types.Errorf(types.ErrRecordNotFound, "local_id: %s", localID)
	}

	return rec.Clone(), nil
}

func (m *Manager) FindByHash(ctx context.Context, syncHash string) (*types.LocalDomainRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.byHash[syncHash]
	if !exists {
		return nil, types.Errorf(types.ErrRecordNotFound, "sync_hash: %s", syncHash)
	}

	return rec.Clone(), nil
}

func (m *Manager) MarkSynced(ctx context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.byID[localID]
	if !exists {
		return types.Errorf(types.ErrRecordNotFound, "local_id: %s", localID)
	}

	if rec.IsSynced {
		return nil
	}

	clone := rec.Clone()
	clone.IsSynced = true
	clone.SyncedAt = time.Now()

	value, err := utils.Marshal(clone)
	if err != nil {
		return types.WrapError(err, "failed to marshal record")
	}

	if err := m.store.Put(ctx, types.CollectionDomainRecords, clone.LocalID, value); err != nil {
		return err
	}

	m.byID[clone.LocalID] = clone
	m.byHash[clone.SyncHash] = clone

	return nil
}

func (m *Manager) UnsyncedCount(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, rec := range m.byID {
		if !rec.IsSynced {
			count++
		}
	}

	return count, nil
}

// ResetSyncFlags clears every synced flag in one batch, so a full resync can
// replay all local records.
func (m *Manager) ResetSyncFlags(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reset := make([]*types.LocalDomainRecord, 0, len(m.byID))
	ops := make([]types.StoreOp, 0, len(m.byID))

	for _, rec := range m.byID {
		if !rec.IsSynced {
			continue
		}

		clone := rec.Clone()
		clone.IsSynced = false
		clone.SyncedAt = time.Time{}

		value, err := utils.Marshal(clone)
		if err != nil {
			return types.WrapError(err, "failed to marshal record")
		}

		reset = append(reset, clone)
		ops = append(ops, types.StoreOp{
			Kind:       types.StoreOpPut,
			Collection: types.CollectionDomainRecords,
			Key:        clone.LocalID,
			Value:      value,
		})
	}

	if len(ops) == 0 {
		return nil
	}

	if err := m.store.Apply(ctx, ops); err != nil {
		return err
	}

	for _, clone := range reset {
		m.byID[clone.LocalID] = clone
		m.byHash[clone.SyncHash] = clone
	}

	m.logger.Info("Sync flags reset", zap.Int("records", len(reset)))
	return nil
}

func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Clear(ctx, types.CollectionDomainRecords); err != nil {
		return types.WrapError(err, "failed to clear records collection")
	}

	m.byID = make(map[string]*types.LocalDomainRecord)
	m.byHash = make(map[string]*types.LocalDomainRecord)

	return nil
}

func (m *Manager) Load(ctx context.Context) error {
	stored, err := m.store.Scan(ctx, types.CollectionDomainRecords, nil)
	if err != nil {
		return types.WrapError(err, "failed to scan records collection")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]*types.LocalDomainRecord, len(stored))
	byHash := make(map[string]*types.LocalDomainRecord, len(stored))

	for _, row := range stored {
		var rec types.LocalDomainRecord
		if err := utils.Unmarshal(row.Value, &rec); err != nil {
			m.logger.Warn("Skipping undecodable record row",
				zap.String("key", row.Key), zap.Error(err))
			continue
		}

		indexed := rec
		byID[indexed.LocalID] = &indexed
		byHash[indexed.SyncHash] = &indexed
	}

	m.byID = byID
	m.byHash = byHash

	return nil
}
