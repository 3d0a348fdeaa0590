package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
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
	DefaultTTL                  = 1 * time.Hour
	DefaultCompressionThreshold = 4 * 1024

	// Entries at or above this payload size never enter the hot tier.
	hotPayloadLimit = 100 * 1024

	encodingBrotli = "br"
)

// storedEntry is the durable-tier envelope. Payload may be brotli-compressed;
// Encoding records it so reads stay transparent. SizeBytes is always the raw
// payload size.
type storedEntry struct {
	Key          string    `json:"key"`
	Payload      []byte    `json:"payload"`
	ContentType  string    `json:"content_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	Encoding     string    `json:"encoding,omitempty"`
}

// LayeredCache keeps every entry in the durable store and mirrors small ones
// into the hot tier. The durable tier is authoritative; a hot-tier failure
// never fails the caller.
type LayeredCache struct {
	ctx                  context.Context
	logger               types.Logger
	config               *types.CacheConfig
	durable              types.DurableStore
	hot                  types.CacheTier
	defaultTTL           time.Duration
	compressionThreshold int64
	state                atomic.Value
}

func NewLayeredCache(ctx context.Context, logger types.Logger, config *types.CacheConfig, durable types.DurableStore, hot types.CacheTier) (types.CacheManager, error) {
	if durable == nil {
		return nil, types.ErrConfigIsNil
	}

	defaultTTL := config.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	compressionThreshold := config.CompressionThreshold
	if compressionThreshold <= 0 {
		compressionThreshold = DefaultCompressionThreshold
	}

	cache := &LayeredCache{
		ctx:                  ctx,
		logger:               logger,
		config:               config,
		durable:              durable,
		hot:                  hot,
		defaultTTL:           defaultTTL,
		compressionThreshold: compressionThreshold,
	}

	cache.state.Store(StateStopped)

	return cache, nil
}

func (c *LayeredCache) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if c.getState() == StateStarting {
			c.setState(StateRunning)
		}
	}()

	if err := c.durable.EnsureCollection(c.ctx, types.CollectionCacheEntries); err != nil {
		c.setState(StateStopped)
		return types.WrapError(err, "failed to ensure cache collection")
	}

	if err := c.hot.Start(); err != nil {
		c.setState(StateStopped)
		return types.WrapError(err, "failed to start hot tier")
	}

	c.logger.Info("Cache manager started", zap.String("hot_tier", c.config.Type))
	return nil
}

func (c *LayeredCache) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		c.setState(StateStopped)
	}()

	if err := c.hot.Stop(); err != nil {
		c.logger.Error("Failed to stop hot tier", zap.Error(err))
		return err
	}

	c.logger.Info("Cache manager stopped gracefully")
	return nil
}

func (c *LayeredCache) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *LayeredCache) CacheResponse(ctx context.Context, key string, data []byte, opts *types.CacheOptions) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	now := time.Now()
	ttl := c.defaultTTL

	entry := &types.CacheEntry{
		Key:       key,
		Payload:   data,
		CreatedAt: now,
		SizeBytes: int64(len(data)),
	}

	if opts != nil {
		entry.ContentType = opts.ContentType
		entry.ETag = opts.ETag
		entry.LastModified = opts.LastModified
		if opts.TTL != 0 {
			ttl = opts.TTL
		}
	}

	// A negative ttl yields ExpiresAt in the past: the entry is written but
	// immediately expired.
	entry.ExpiresAt = now.Add(ttl)

	stored := &storedEntry{
		Key:          entry.Key,
		Payload:      entry.Payload,
		ContentType:  entry.ContentType,
		CreatedAt:    entry.CreatedAt,
		ExpiresAt:    entry.ExpiresAt,
		ETag:         entry.ETag,
		LastModified: entry.LastModified,
		SizeBytes:    entry.SizeBytes,
	}

	if entry.SizeBytes >= c.compressionThreshold {
		compressed, err := compressPayload(data)
		if err != nil {
			c.logger.Warn("Payload compression failed, storing raw",
				zap.String("key", key), zap.Error(err))
		} else if int64(len(compressed)) < entry.SizeBytes {
			stored.Payload = compressed
			stored.Encoding = encodingBrotli
		}
	}

	value, err := utils.Marshal(stored)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	if err := c.durable.Put(ctx, types.CollectionCacheEntries, key, value); err != nil {
		return err
	}

	if entry.SizeBytes < hotPayloadLimit {
		if err := c.hot.Set(ctx, entry); err != nil {
			c.logger.Warn("Hot tier set failed",
				zap.String("key", key), zap.Error(err))
		}
	} else {
		// A rewrite above the hot limit must not leave the old payload hot.
		if err := c.hot.Delete(ctx, key); err != nil {
			c.logger.Debug("Hot tier delete failed",
				zap.String("key", key), zap.Error(err))
		}
	}

	return nil
}

func (c *LayeredCache) GetCachedResponse(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	if entry, exists := c.hot.Get(ctx, key); exists {
		return entry, nil
	}

	raw, err := c.durable.Get(ctx, types.CollectionCacheEntries, key)
	if err != nil {
		if types.IsError(err, types.ErrStoreKeyNotFound) {
			return nil, types.ErrCacheEntryNotFound
		}
		// Durable-tier read failures degrade to a miss.
		c.logger.Error("Durable cache read failed",
			zap.String("key", key), zap.Error(err))
		return nil, types.ErrCacheEntryNotFound
	}

	entry, err := c.decodeStoredEntry(raw)
	if err != nil {
		c.logger.Warn("Dropping undecodable cache entry",
			zap.String("key", key), zap.Error(err))
		c.deleteQuiet(ctx, key)
		return nil, types.ErrCacheEntryNotFound
	}

	if entry.Expired(time.Now()) {
		c.deleteQuiet(ctx, key)
		return nil, types.ErrCacheEntryNotFound
	}

	if entry.SizeBytes < hotPayloadLimit {
		if err := c.hot.Set(ctx, entry); err != nil {
			c.logger.Debug("Hot tier promotion failed",
				zap.String("key", key), zap.Error(err))
		}
	}

	return entry, nil
}

func (c *LayeredCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	var errs []string
	for _, key := range keys {
		if key == "" {
			continue
		}

		if err := c.hot.Delete(ctx, key); err != nil {
			c.logger.Debug("Hot tier delete failed",
				zap.String("key", key), zap.Error(err))
		}

		if err := c.durable.Delete(ctx, types.CollectionCacheEntries, key); err != nil {
			errs = append(errs, fmt.Sprintf("key %s: %v", key, err))
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("invalidation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *LayeredCache) Clear(ctx context.Context) error {
	if err := c.hot.Clear(ctx); err != nil {
		c.logger.Warn("Hot tier clear failed", zap.Error(err))
	}

	if err := c.durable.Clear(ctx, types.CollectionCacheEntries); err != nil {
		return types.WrapError(err, "failed to clear cache entries")
	}

	c.logger.Info("Cache cleared")
	return nil
}

func (c *LayeredCache) Size(ctx context.Context) (int64, error) {
	return c.durable.Count(ctx, types.CollectionCacheEntries)
}

func (c *LayeredCache) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now()

	expired, err := c.durable.Scan(ctx, types.CollectionCacheEntries, func(key string, value []byte) bool {
		var stored storedEntry
		if err := utils.Unmarshal(value, &stored); err != nil {
			// Undecodable entries are swept along with the expired ones.
			return true
		}
		return !stored.ExpiresAt.After(now)
	})
	if err != nil {
		return 0, types.WrapError(err, "failed to scan cache entries")
	}

	swept := 0
	for _, record := range expired {
		if err := c.durable.Delete(ctx, types.CollectionCacheEntries, record.Key); err != nil {
			c.logger.Warn("Failed to delete expired cache entry",
				zap.String("key", record.Key), zap.Error(err))
			continue
		}

		if err := c.hot.Delete(ctx, record.Key); err != nil {
			c.logger.Debug("Hot tier delete failed",
				zap.String("key", record.Key), zap.Error(err))
		}

		swept++
	}

	if swept > 0 {
		c.logger.Info("Cache sweep completed", zap.Int("swept_entries", swept))
	}

	return swept, nil
}

func (c *LayeredCache) decodeStoredEntry(raw []byte) (*types.CacheEntry, error) {
	var stored storedEntry
	if err := utils.Unmarshal(raw, &stored); err != nil {
		return nil, types.WrapError(err, "failed to unmarshal stored cache entry")
	}

	payload := stored.Payload
	if stored.Encoding == encodingBrotli {
		decompressed, err := decompressPayload(payload)
		if err != nil {
			return nil, types.WrapError(err, "failed to decompress cache payload")
		}
		payload = decompressed
	}

	return &types.CacheEntry{
		Key:          stored.Key,
		Payload:      payload,
		ContentType:  stored.ContentType,
		CreatedAt:    stored.CreatedAt,
		ExpiresAt:    stored.ExpiresAt,
		ETag:         stored.ETag,
		LastModified: stored.LastModified,
		SizeBytes:    stored.SizeBytes,
	}, nil
}

func (c *LayeredCache) deleteQuiet(ctx context.Context, key string) {
	if err := c.durable.Delete(ctx, types.CollectionCacheEntries, key); err != nil {
		c.logger.Debug("Best-effort cache delete failed",
			zap.String("key", key), zap.Error(err))
	}

	if err := c.hot.Delete(ctx, key); err != nil {
		c.logger.Debug("Hot tier delete failed",
			zap.String("key", key), zap.Error(err))
	}
}

func (c *LayeredCache) getState() State {
	return c.state.Load().(State)
}

func (c *LayeredCache) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *LayeredCache) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}

var brotliWriterPool = sync.Pool{
	New: func() interface{} {
		return brotli.NewWriterLevel(nil, brotli.DefaultCompression)
	},
}

func compressPayload(data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(data)/3))

	writer := brotliWriterPool.Get().(*brotli.Writer)
	writer.Reset(buf)

	_, err := writer.Write(data)
	if err == nil {
		err = writer.Close()
	}

	writer.Reset(nil)
	brotliWriterPool.Put(writer)

	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressPayload(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}
