package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-sync/types"
)

var customTierCreators = make(map[string]types.CacheTierCreator)

func RegisterCacheTier(tierName string, creator types.CacheTierCreator) {
	customTierCreators[tierName] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, durable types.DurableStore) (types.CacheManager, error) {
	cacheConfig := config.GetConfig().Cache

	if cacheConfig == nil || !cacheConfig.Enabled {
		return nil, types.ErrCacheIsDisabled
	}

	tierName := cacheConfig.Type

	var hot types.CacheTier
	var err error

	switch tierName {
	case "memory":
		hot, err = NewMemoryTier(ctx, logger, cacheConfig)
	case "redis":
		hot, err = NewRedisTier(ctx, logger, cacheConfig)
	default:
		if creator, exists := customTierCreators[tierName]; exists {
			hot, err = creator(cacheConfig)
		} else {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", tierName)
		}
	}

	if err != nil {
		return nil, err
	}

	impl, err := NewLayeredCache(ctx, logger, cacheConfig, durable, hot)
	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedCacheManager(logger, metrics, impl), nil
}

type instrumentedCacheManager struct {
	impl    types.CacheManager
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedCacheManager(logger types.Logger, metrics types.MetricsManager, impl types.CacheManager) types.CacheManager {
	instrumented := &instrumentedCacheManager{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}

	return instrumented
}

func (icm *instrumentedCacheManager) CacheResponse(ctx context.Context, key string, data []byte, opts *types.CacheOptions) error {
	start := time.Now()
	err := icm.impl.CacheResponse(ctx, key, data, opts)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	icm.recordMetric("set", result, duration)
	return err
}

func (icm *instrumentedCacheManager) GetCachedResponse(ctx context.Context, key string) (*types.CacheEntry, error) {
	start := time.Now()
	entry, err := icm.impl.GetCachedResponse(ctx, key)
	duration := time.Since(start)

	result := "hit"
	if err != nil {
		if types.IsError(err, types.ErrCacheEntryNotFound) {
			result = "miss"
		} else {
			result = "error"
		}
	}

	icm.recordMetric("get", result, duration)
	return entry, err
}

func (icm *instrumentedCacheManager) Invalidate(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := icm.impl.Invalidate(ctx, keys...)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	icm.recordMetric("invalidate", result, duration)
	return err
}

func (icm *instrumentedCacheManager) Clear(ctx context.Context) error {
	start := time.Now()
	err := icm.impl.Clear(ctx)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	icm.recordMetric("clear", result, duration)
	return err
}

func (icm *instrumentedCacheManager) Size(ctx context.Context) (int64, error) {
	return icm.impl.Size(ctx)
}

func (icm *instrumentedCacheManager) SweepExpired(ctx context.Context) (int, error) {
	start := time.Now()
	swept, err := icm.impl.SweepExpired(ctx)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	icm.recordMetric("sweep", result, duration)
	return swept, err
}

func (icm *instrumentedCacheManager) Start() error {
	start := time.Now()
	err := icm.impl.Start()
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	icm.recordMetric("start", result, duration)

	return err
}

func (icm *instrumentedCacheManager) Stop() error {
	return icm.impl.Stop()
}

func (icm *instrumentedCacheManager) IsRunning() bool {
	return icm.impl.IsRunning()
}

func (icm *instrumentedCacheManager) recordMetric(operation, result string, duration time.Duration) {
	opCounter := icm.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := icm.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}
