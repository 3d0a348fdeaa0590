package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

type RedisTierConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

// RedisTier is a shared hot tier for multi-process deployments. Expiry is
// enforced server-side via SET TTLs; any redis failure degrades to a miss.
type RedisTier struct {
	ctx     context.Context
	logger  types.Logger
	config  *RedisTierConfig
	client  *redis.Client
	started int32
}

func NewRedisTier(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheTier, error) {
	var tierConfig = &RedisTierConfig{
		Host:               "localhost",
		Port:               6379,
		Password:           "",
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "sai-sync",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, tierConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis tier config")
		}
	}

	tier := &RedisTier{
		ctx:    ctx,
		logger: logger,
		config: tierConfig,
	}

	tier.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", tierConfig.Host, tierConfig.Port),
		Password:     tierConfig.Password,
		DB:           tierConfig.DB,
		PoolSize:     tierConfig.PoolSize,
		MinIdleConns: tierConfig.MinIdleConnections,
		DialTimeout:  tierConfig.DialTimeout,
		ReadTimeout:  tierConfig.ReadTimeout,
		WriteTimeout: tierConfig.WriteTimeout,
	})

	if err := tier.ping(); err != nil {
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "%v", err)
	}

	return tier, nil
}

func (r *RedisTier) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	r.logger.Info("Redis hot tier started",
		zap.String("addr", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)))
	return nil
}

func (r *RedisTier) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis hot tier stopped gracefully")
	return nil
}

func (r *RedisTier) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisTier) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if key == "" {
		return nil, false
	}

	fullKey := r.buildFullKey(key)

	result, err := r.client.Get(ctx, fullKey).Result()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false
		}
		r.logger.Error("Failed to get hot tier entry",
			zap.String("key", key), zap.Error(err))
		return nil, false
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal([]byte(result), &entry); err != nil {
		r.logger.Error("Failed to unmarshal hot tier entry",
			zap.String("key", key), zap.Error(err))
		r.client.Del(ctx, fullKey)
		return nil, false
	}

	if entry.Expired(time.Now()) {
		r.client.Del(ctx, fullKey)
		return nil, false
	}

	return &entry, true
}

func (r *RedisTier) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		// Already expired, nothing to keep hot.
		return nil
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal hot tier entry")
	}

	fullKey := r.buildFullKey(entry.Key)

	if err := r.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
		r.logger.Error("Failed to set hot tier entry",
			zap.String("key", entry.Key), zap.Error(err))
		return types.WrapError(err, "failed to set hot tier entry")
	}

	return nil
}

func (r *RedisTier) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	if err := r.client.Del(ctx, r.buildFullKey(key)).Err(); err != nil {
		r.logger.Error("Failed to delete hot tier entry",
			zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to delete hot tier entry")
	}

	return nil
}

func (r *RedisTier) Clear(ctx context.Context) error {
	var cursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.buildFullKey("*"), 100).Result()
		if err != nil {
			return types.WrapError(err, "failed to scan hot tier keys")
		}

		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return types.WrapError(err, "failed to delete hot tier keys")
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return nil
}

func (r *RedisTier) Len(ctx context.Context) int {
	var cursor uint64
	total := 0

	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.buildFullKey("*"), 100).Result()
		if err != nil {
			r.logger.Error("Failed to scan hot tier keys", zap.Error(err))
			return total
		}

		total += len(keys)

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return total
}

func (r *RedisTier) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisTier) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}
