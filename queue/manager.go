package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	DefaultMaxEntries = 10000
	DefaultPriority   = 1
	DefaultMaxRetries = 3

	overflowReason = "queue_overflow"
)

// RecordBinder is what Enqueue needs from the domain-record store: hash
// lookups plus a two-phase insert so the record row rides the enqueue batch.
type RecordBinder interface {
	FindByHash(ctx context.Context, syncHash string) (*types.LocalDomainRecord, error)
	PrepareInsert(rec *types.LocalDomainRecord) (types.StoreOp, error)
	CommitInsert(rec *types.LocalDomainRecord)
}

// Manager is the durable outbox. Every entry is persisted before Enqueue
// returns; the in-memory index is a view over the mutation_queue collection
// and is rebuilt by Load after a restart.
type Manager struct {
	ctx               context.Context
	logger            types.Logger
	store             types.DurableStore
	records           RecordBinder
	broker            types.EventBroker
	pending           map[int64]*types.PendingMutation
	nextID            int64
	maxEntries        int
	defaultPriority   int
	defaultMaxRetries int
	mu                sync.RWMutex
	state             atomic.Value
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, store types.DurableStore, records RecordBinder, broker types.EventBroker) (types.MutationQueue, error) {
	queueConfig := config.GetConfig().Queue
	if queueConfig == nil {
		return nil, types.ErrConfigIsNil
	}

	manager := newQueueManager(ctx, logger, store, records, broker, queueConfig)
	if metrics == nil {
		return manager, nil
	}

	return newInstrumentedQueue(logger, metrics, manager), nil
}

func newQueueManager(ctx context.Context, logger types.Logger, store types.DurableStore, records RecordBinder, broker types.EventBroker, queueConfig *types.QueueConfig) *Manager {
	maxEntries := queueConfig.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	defaultPriority := queueConfig.DefaultPriority
	if defaultPriority == 0 {
		defaultPriority = DefaultPriority
	}

	defaultMaxRetries := queueConfig.DefaultMaxRetries
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = DefaultMaxRetries
	}

	manager := &Manager{
		ctx:               ctx,
		logger:            logger,
		store:             store,
		records:           records,
		broker:            broker,
		pending:           make(map[int64]*types.PendingMutation),
		nextID:            1,
		maxEntries:        maxEntries,
		defaultPriority:   defaultPriority,
		defaultMaxRetries: defaultMaxRetries,
	}

	manager.state.Store(StateStopped)

	return manager
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	if err := m.store.EnsureCollection(m.ctx, types.CollectionMutationQueue); err != nil {
		m.setState(StateStopped)
		return types.WrapError(err, "failed to ensure queue collection")
	}

	if err := m.store.EnsureCollection(m.ctx, types.CollectionMutationFailures); err != nil {
		m.setState(StateStopped)
		return types.WrapError(err, "failed to ensure dead-letter collection")
	}

	if err := m.Load(m.ctx); err != nil {
		m.setState(StateStopped)
		return err
	}

	m.mu.RLock()
	pending := len(m.pending)
	m.mu.RUnlock()

	m.logger.Info("Mutation queue started",
		zap.Int("pending", pending),
		zap.Int("max_entries", m.maxEntries))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.mu.Lock()
	m.pending = make(map[int64]*types.PendingMutation)
	m.mu.Unlock()

	m.logger.Info("Mutation queue stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) Enqueue(ctx context.Context, req *types.EnqueueRequest) (int64, error) {
	if req == nil {
		return 0, types.Errorf(types.ErrInvalidParameter, "enqueue request is nil")
	}
	if req.Endpoint == "" {
		return 0, types.Errorf(types.ErrInvalidParameter, "endpoint is required")
	}
	if req.Method == "" {
		return 0, types.Errorf(types.ErrInvalidParameter, "method is required")
	}

	priority := req.Priority
	if priority == 0 {
		priority = m.defaultPriority
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = m.defaultMaxRetries
	}

	now := time.Now()

	m.mu.Lock()

	localID := req.LocalID
	var recordOp *types.StoreOp
	var newRecord *types.LocalDomainRecord

	if req.Record != nil {
		if m.records == nil {
			m.mu.Unlock()
			return 0, types.Errorf(types.ErrInvalidParameter, "record store is not configured")
		}

		rec := req.Record.Clone()
		if rec.SyncHash == "" {
			hash, err := utils.ContentHash(rec.Fields)
			if err != nil {
				m.mu.Unlock()
				return 0, types.WrapError(err, "failed to hash record fields")
			}
			rec.SyncHash = hash
		}

		existing, err := m.records.FindByHash(ctx, rec.SyncHash)
		switch {
		case err == nil:
			if existing.IsSynced {
				m.mu.Unlock()
				return 0, types.Errorf(types.ErrMutationDuplicate, "sync_hash: %s", rec.SyncHash)
			}
			// The same logical write is already queued; reuse its record.
			localID = existing.LocalID
		case types.IsError(err, types.ErrRecordNotFound):
			op, prepErr := m.records.PrepareInsert(rec)
			if prepErr != nil {
				m.mu.Unlock()
				return 0, prepErr
			}
			recordOp = &op
			newRecord = rec
			localID = rec.LocalID
		default:
			m.mu.Unlock()
			return 0, err
		}
	}

	var victim *types.PendingMutation
	if m.maxEntries > 0 && len(m.pending) >= m.maxEntries {
		victim = m.findOverflowVictimUnsafe()
		if victim == nil {
			m.mu.Unlock()
			return 0, types.Errorf(types.ErrQueueFull, "all %d entries are in flight", m.maxEntries)
		}
	}

	mutation := &types.PendingMutation{
		ID:          m.nextID,
		Endpoint:    req.Endpoint,
		Method:      req.Method,
		Payload:     req.Payload,
		Headers:     req.Headers,
		Priority:    priority,
		RetryCount:  0,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		ScheduledAt: now,
		LocalID:     localID,
		State:       types.MutationStatePending,
	}

	value, err := utils.Marshal(mutation)
	if err != nil {
		m.mu.Unlock()
		return 0, types.WrapError(err, "failed to marshal mutation")
	}

	ops := make([]types.StoreOp, 0, 4)
	ops = append(ops, types.StoreOp{
		Kind:       types.StoreOpPut,
		Collection: types.CollectionMutationQueue,
		Key:        queueKey(mutation.ID),
		Value:      value,
	})
	if recordOp != nil {
		ops = append(ops, *recordOp)
	}
	if victim != nil {
		failedValue, failErr := marshalFailure(victim, overflowReason, now)
		if failErr != nil {
			m.mu.Unlock()
			return 0, failErr
		}
		ops = append(ops,
			types.StoreOp{
				Kind:       types.StoreOpDelete,
				Collection: types.CollectionMutationQueue,
				Key:        queueKey(victim.ID),
			},
			types.StoreOp{
				Kind:       types.StoreOpPut,
				Collection: types.CollectionMutationFailures,
				Key:        queueKey(victim.ID),
				Value:      failedValue,
			},
		)
	}

	if err := m.store.Apply(ctx, ops); err != nil {
		m.mu.Unlock()
		return 0, err
	}

	m.nextID++
	m.pending[mutation.ID] = mutation
	if victim != nil {
		delete(m.pending, victim.ID)
	}
	if newRecord != nil {
		m.records.CommitInsert(newRecord)
	}
	pendingNow := len(m.pending)

	m.mu.Unlock()

	if victim != nil {
		m.logger.Warn("Queue overflow, evicted oldest low-priority mutation",
			zap.Int64("evicted_id", victim.ID),
			zap.Int("evicted_priority", victim.Priority),
			zap.Int("pending", pendingNow))
		m.publishEvent(types.EventQueueOverflow, map[string]interface{}{
			"evicted_id":  victim.ID,
			"accepted_id": mutation.ID,
			"pending":     pendingNow,
		})
	}

	m.logger.Debug("Mutation enqueued",
		zap.Int64("id", mutation.ID),
		zap.String("endpoint", mutation.Endpoint),
		zap.Int("priority", mutation.Priority))

	return mutation.ID, nil
}

func (m *Manager) DrainReady(ctx context.Context, now time.Time) ([]*types.PendingMutation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()

	ready := make([]*types.PendingMutation, 0, len(m.pending))
	for _, mutation := range m.pending {
		if mutation.State != types.MutationStatePending {
			continue
		}
		if mutation.ScheduledAt.After(now) {
			continue
		}
		ready = append(ready, mutation.Clone())
	}

	m.mu.RUnlock()

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})

	return ready, nil
}

func (m *Manager) Remove(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[id]; !exists {
		return types.Errorf(types.ErrMutationNotFound, "id: %d", id)
	}

	if err := m.store.Delete(ctx, types.CollectionMutationQueue, queueKey(id)); err != nil {
		return err
	}

	delete(m.pending, id)
	return nil
}

func (m *Manager) Reschedule(ctx context.Context, id int64, at time.Time, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.pending[id]
	if !exists {
		return types.Errorf(types.ErrMutationNotFound, "id: %d", id)
	}

	if retryCount > entry.MaxRetries {
		return types.Errorf(types.ErrInvalidParameter,
			"retry count %d exceeds max retries %d", retryCount, entry.MaxRetries)
	}

	clone := entry.Clone()
	clone.RetryCount = retryCount
	clone.ScheduledAt = at
	clone.State = types.MutationStatePending

	value, err := utils.Marshal(clone)
	if err != nil {
		return types.WrapError(err, "failed to marshal mutation")
	}

	if err := m.store.Put(ctx, types.CollectionMutationQueue, queueKey(id), value); err != nil {
		return err
	}

	m.pending[id] = clone
	return nil
}

func (m *Manager) MarkInFlight(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.pending[id]
	if !exists || entry.State != types.MutationStatePending {
		return false
	}

	clone := entry.Clone()
	clone.State = types.MutationStateInFlight
	m.pending[id] = clone

	return true
}

func (m *Manager) Fail(ctx context.Context, mutation *types.PendingMutation, reason string) error {
	if mutation == nil {
		return types.Errorf(types.ErrInvalidParameter, "mutation is nil")
	}

	m.mu.Lock()

	if _, exists := m.pending[mutation.ID]; !exists {
		m.mu.Unlock()
		return types.Errorf(types.ErrMutationNotFound, "id: %d", mutation.ID)
	}

	now := time.Now()

	failedValue, err := marshalFailure(mutation, reason, now)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	ops := []types.StoreOp{
		{
			Kind:       types.StoreOpDelete,
			Collection: types.CollectionMutationQueue,
			Key:        queueKey(mutation.ID),
		},
		{
			Kind:       types.StoreOpPut,
			Collection: types.CollectionMutationFailures,
			Key:        queueKey(mutation.ID),
			Value:      failedValue,
		},
	}

	if err := m.store.Apply(ctx, ops); err != nil {
		m.mu.Unlock()
		return err
	}

	delete(m.pending, mutation.ID)
	m.mu.Unlock()

	m.logger.Warn("Mutation moved to dead letter",
		zap.Int64("id", mutation.ID),
		zap.String("reason", reason),
		zap.Int("retry_count", mutation.RetryCount))

	return nil
}

func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.pending)
}

func (m *Manager) FailedCount(ctx context.Context) (int64, error) {
	return m.store.Count(ctx, types.CollectionMutationFailures)
}

func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Clear(ctx, types.CollectionMutationQueue); err != nil {
		return types.WrapError(err, "failed to clear mutation queue")
	}

	if err := m.store.Clear(ctx, types.CollectionMutationFailures); err != nil {
		return types.WrapError(err, "failed to clear dead-letter collection")
	}

	cleared := len(m.pending)
	m.pending = make(map[int64]*types.PendingMutation)

	m.logger.Info("Mutation queue cleared", zap.Int("cleared_entries", cleared))
	return nil
}

func (m *Manager) Load(ctx context.Context) error {
	records, err := m.store.Scan(ctx, types.CollectionMutationQueue, nil)
	if err != nil {
		return types.WrapError(err, "failed to scan mutation queue")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make(map[int64]*types.PendingMutation, len(records))
	var maxID int64

	for _, record := range records {
		var mutation types.PendingMutation
		if err := utils.Unmarshal(record.Value, &mutation); err != nil {
			m.logger.Warn("Skipping undecodable queue row",
				zap.String("key", record.Key), zap.Error(err))
			continue
		}

		pending[mutation.ID] = &mutation
		if mutation.ID > maxID {
			maxID = mutation.ID
		}
	}

	m.pending = pending
	m.nextID = maxID + 1

	return nil
}

// findOverflowVictimUnsafe picks the oldest pending entry of the lowest
// priority band. In-flight entries are never evicted; nil means everything is
// in flight.
func (m *Manager) findOverflowVictimUnsafe() *types.PendingMutation {
	var victim *types.PendingMutation

	for _, mutation := range m.pending {
		if mutation.State != types.MutationStatePending {
			continue
		}
		if victim == nil {
			victim = mutation
			continue
		}
		if mutation.Priority != victim.Priority {
			if mutation.Priority < victim.Priority {
				victim = mutation
			}
			continue
		}
		if !mutation.CreatedAt.Equal(victim.CreatedAt) {
			if mutation.CreatedAt.Before(victim.CreatedAt) {
				victim = mutation
			}
			continue
		}
		if mutation.ID < victim.ID {
			victim = mutation
		}
	}

	return victim
}

func (m *Manager) publishEvent(event string, payload interface{}) {
	if m.broker == nil {
		return
	}

	if err := m.broker.Publish(event, payload); err != nil {
		m.logger.Debug("Failed to publish queue event",
			zap.String("event", event), zap.Error(err))
	}
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func queueKey(id int64) string {
	// Zero-padded so store scans return insertion order.
	return fmt.Sprintf("%020d", id)
}

func marshalFailure(mutation *types.PendingMutation, reason string, failedAt time.Time) ([]byte, error) {
	failed := &types.FailedMutation{
		Mutation: *mutation.Clone(),
		Reason:   reason,
		FailedAt: failedAt,
	}

	value, err := utils.Marshal(failed)
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal dead-letter entry")
	}

	return value, nil
}

type instrumentedQueue struct {
	impl    types.MutationQueue
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedQueue(logger types.Logger, metrics types.MetricsManager, impl types.MutationQueue) types.MutationQueue {
	instrumented := &instrumentedQueue{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}

	return instrumented
}

func (iq *instrumentedQueue) Enqueue(ctx context.Context, req *types.EnqueueRequest) (int64, error) {
	start := time.Now()
	id, err := iq.impl.Enqueue(ctx, req)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
		if types.IsError(err, types.ErrMutationDuplicate) {
			result = "duplicate"
		}
	}

	iq.recordMetric("enqueue", result, duration)
	iq.updateDepthGauge()
	return id, err
}

func (iq *instrumentedQueue) DrainReady(ctx context.Context, now time.Time) ([]*types.PendingMutation, error) {
	start := time.Now()
	ready, err := iq.impl.DrainReady(ctx, now)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	iq.recordMetric("drain", result, duration)
	return ready, err
}

func (iq *instrumentedQueue) Remove(ctx context.Context, id int64) error {
	start := time.Now()
	err := iq.impl.Remove(ctx, id)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	iq.recordMetric("remove", result, duration)
	iq.updateDepthGauge()
	return err
}

func (iq *instrumentedQueue) Reschedule(ctx context.Context, id int64, at time.Time, retryCount int) error {
	start := time.Now()
	err := iq.impl.Reschedule(ctx, id, at, retryCount)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	iq.recordMetric("reschedule", result, duration)
	return err
}

func (iq *instrumentedQueue) MarkInFlight(id int64) bool {
	return iq.impl.MarkInFlight(id)
}

func (iq *instrumentedQueue) Fail(ctx context.Context, mutation *types.PendingMutation, reason string) error {
	start := time.Now()
	err := iq.impl.Fail(ctx, mutation, reason)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	iq.recordMetric("fail", result, duration)
	iq.updateDepthGauge()
	return err
}

func (iq *instrumentedQueue) PendingCount() int {
	return iq.impl.PendingCount()
}

func (iq *instrumentedQueue) FailedCount(ctx context.Context) (int64, error) {
	return iq.impl.FailedCount(ctx)
}

func (iq *instrumentedQueue) Clear(ctx context.Context) error {
	start := time.Now()
	err := iq.impl.Clear(ctx)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	iq.recordMetric("clear", result, duration)
	iq.updateDepthGauge()
	return err
}

func (iq *instrumentedQueue) Load(ctx context.Context) error {
	return iq.impl.Load(ctx)
}

func (iq *instrumentedQueue) Start() error {
	start := time.Now()
	err := iq.impl.Start()
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	iq.recordMetric("start", result, duration)
	iq.updateDepthGauge()

	return err
}

func (iq *instrumentedQueue) Stop() error {
	return iq.impl.Stop()
}

func (iq *instrumentedQueue) IsRunning() bool {
	return iq.impl.IsRunning()
}

func (iq *instrumentedQueue) recordMetric(operation, result string, duration time.Duration) {
	opCounter := iq.metrics.Counter("queue_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := iq.metrics.Histogram("queue_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}

func (iq *instrumentedQueue) updateDepthGauge() {
	iq.metrics.Gauge("queue_depth", nil).Set(float64(iq.impl.PendingCount()))
}
