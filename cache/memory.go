package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
)

const (
	DefaultHotEntries = 100

	cleanupInterval = 5 * time.Minute
)

// MemoryTier is the default hot tier: a capacity-bounded map evicting the
// oldest entry by CreatedAt when full.
type MemoryTier struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      types.Logger
	data        map[string]*types.CacheEntry
	maxEntries  int
	hits        uint64
	misses      uint64
	evictions   uint64
	mu          sync.RWMutex
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	started     int32
}

func NewMemoryTier(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheTier, error) {
	maxEntries := int(config.HotEntryLimit)
	if maxEntries <= 0 {
		maxEntries = DefaultHotEntries
	}

	tierCtx, cancel := context.WithCancel(ctx)

	tier := &MemoryTier{
		ctx:         tierCtx,
		cancel:      cancel,
		logger:      logger,
		data:        make(map[string]*types.CacheEntry),
		maxEntries:  maxEntries,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	return tier, nil
}

func (m *MemoryTier) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	go m.startCleanupRoutine()

	m.logger.Info("Memory hot tier started", zap.Int("max_entries", m.maxEntries))
	return nil
}

func (m *MemoryTier) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	m.cancel()

	select {
	case <-m.stopCleanup:
	default:
		close(m.stopCleanup)
	}

	select {
	case <-m.cleanupDone:
		m.logger.Debug("Cleanup routine stopped")
	case <-time.After(5 * time.Second):
		m.logger.Warn("Cleanup routine stop timeout")
	}

	m.mu.Lock()
	cleared := len(m.data)
	m.data = make(map[string]*types.CacheEntry)
	m.mu.Unlock()

	m.logger.Info("Memory hot tier stopped", zap.Int("cleared_entries", cleared))
	return nil
}

func (m *MemoryTier) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

func (m *MemoryTier) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if key == "" {
		return nil, false
	}

	now := time.Now()

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	if entry.Expired(now) {
		m.mu.Lock()
		if current, exists := m.data[key]; exists && current.Expired(now) {
			delete(m.data, key)
		}
		m.mu.Unlock()

		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&m.hits, 1)
	return entry, true
}

func (m *MemoryTier) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[entry.Key]; !exists && len(m.data) >= m.maxEntries {
		m.evictOneUnsafe()
	}

	m.data[entry.Key] = entry
	return nil
}

func (m *MemoryTier) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryTier) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]*types.CacheEntry)
	return nil
}

func (m *MemoryTier) Len(ctx context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

func (m *MemoryTier) startCleanupRoutine() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Cleanup routine stopped by context")
			return
		case <-m.stopCleanup:
			m.logger.Debug("Cleanup routine stopped by signal")
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryTier) cleanup() {
	now := time.Now()

	m.mu.Lock()

	var expired []string
	for key, entry := range m.data {
		if entry.Expired(now) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		delete(m.data, key)
	}

	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Debug("Hot tier cleanup completed", zap.Int("expired_entries", len(expired)))
	}
}

func (m *MemoryTier) evictOneUnsafe() {
	if len(m.data) == 0 {
		return
	}

	victimKey := m.findFIFOVictim()
	if victimKey != "" {
		delete(m.data, victimKey)
		atomic.AddUint64(&m.evictions, 1)
	}
}

func (m *MemoryTier) findFIFOVictim() string {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	return oldestKey
}
