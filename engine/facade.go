package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
)

const statusTimeout = 5 * time.Second

// CacheResponse stores a server response under key in both cache tiers.
func (e *Engine) CacheResponse(ctx context.Context, key string, data []byte, opts *types.CacheOptions) error {
	if !e.IsRunning() {
		return types.ErrEngineIsNotRunning
	}

	cacheManager := e.container.GetCache()
	if cacheManager == nil {
		return types.Errorf(types.ErrComponentNotFound, "cache is disabled")
	}

	return cacheManager.CacheResponse(ctx, key, data, opts)
}

// GetCachedResponse serves a cached entry, hot tier first. Works offline;
// a miss or an expired entry returns ErrCacheEntryNotFound /
// ErrCacheEntryExpired for the caller to fall through to the network.
func (e *Engine) GetCachedResponse(ctx context.Context, key string) (*types.CacheEntry, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineIsNotRunning
	}

	cacheManager := e.container.GetCache()
	if cacheManager == nil {
		return nil, types.Errorf(types.ErrComponentNotFound, "cache is disabled")
	}

	return cacheManager.GetCachedResponse(ctx, key)
}

// EnqueueMutation records a write in the durable outbox and returns its
// queue ID. It never requires connectivity; the sync scheduler replays the
// entry when the endpoint is reachable.
func (e *Engine) EnqueueMutation(ctx context.Context, req *types.EnqueueRequest) (int64, error) {
	if !e.IsRunning() {
		return 0, types.ErrEngineIsNotRunning
	}

	mutationQueue := e.container.GetQueue()
	if mutationQueue == nil {
		return 0, types.Errorf(types.ErrComponentNotFound, "mutation queue unavailable")
	}

	return mutationQueue.Enqueue(ctx, req)
}

// TriggerSync kicks a sync pass and reports whether one started. False
// means offline, already syncing, or sync disabled.
func (e *Engine) TriggerSync(reason string) bool {
	scheduler := e.container.GetSync()
	if scheduler == nil {
		return false
	}

	return scheduler.TriggerSync(reason)
}

// GetSyncStatus assembles a point-in-time snapshot from the sensor, the
// scheduler, the queue, and the cache. Components that are disabled or
// unreachable leave their fields at zero.
func (e *Engine) GetSyncStatus() types.SyncStatus {
	var status types.SyncStatus

	ctx, cancel := context.WithTimeout(e.ctx, statusTimeout)
	defer cancel()

	if sensor := e.container.GetConnectivity(); sensor != nil {
		status.IsOnline = sensor.IsOnline()
	}

	if scheduler := e.container.GetSync(); scheduler != nil {
		status.IsSyncing = scheduler.IsSyncing()

		lastPass := scheduler.LastPass()
		status.LastPassAt = lastPass.FinishedAt
		status.LastPassApplied = lastPass.Applied
		status.LastPassDeferred = lastPass.Deferred
		status.LastPassAbandoned = lastPass.Abandoned
	}

	if mutationQueue := e.container.GetQueue(); mutationQueue != nil {
		status.PendingCount = mutationQueue.PendingCount()

		if failed, err := mutationQueue.FailedCount(ctx); err == nil {
			status.FailedCount = failed
		}
	}

	if cacheManager := e.container.GetCache(); cacheManager != nil {
		if size, err := cacheManager.Size(ctx); err == nil {
			status.CacheSize = size
		}
	}

	return status
}

// ClearAll wipes the local footprint: both cache tiers, the outbox, the
// dead-letter collection, and every record's sync flag. This is the logout
// path; domain records themselves stay.
func (e *Engine) ClearAll(ctx context.Context) error {
	if !e.IsRunning() {
		return types.ErrEngineIsNotRunning
	}

	var errs []error

	if cacheManager := e.container.GetCache(); cacheManager != nil {
		if err := cacheManager.Clear(ctx); err != nil {
			errs = append(errs, types.WrapError(err, "cache clear failed"))
		}
	}

	if mutationQueue := e.container.GetQueue(); mutationQueue != nil {
		if err := mutationQueue.Clear(ctx); err != nil {
			errs = append(errs, types.WrapError(err, "queue clear failed"))
		}
	}

	if recordStore := e.container.GetRecords(); recordStore != nil {
		if err := recordStore.ResetSyncFlags(ctx); err != nil {
			errs = append(errs, types.WrapError(err, "record flag reset failed"))
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("clear all failed: %v", errs)
	}

	e.log.Info("Local state cleared", zap.String("trigger", "clear_all"))
	return nil
}

// Records exposes the domain-record store.
func (e *Engine) Records() types.RecordStore {
	return e.container.GetRecords()
}

// Events exposes the event broker; nil when notify is disabled.
func (e *Engine) Events() types.EventBroker {
	if notifyManager := e.container.GetNotify(); notifyManager != nil {
		return notifyManager
	}
	return nil
}

// Connectivity exposes the sensor, mainly so apps driving a manual sensor
// can flip it.
func (e *Engine) Connectivity() types.ConnectivitySensor {
	return e.container.GetConnectivity()
}

// Metrics exposes the metrics manager; nil when metrics are disabled.
func (e *Engine) Metrics() types.MetricsManager {
	return e.container.GetMetrics()
}

// Health exposes the health manager; nil when health is disabled.
func (e *Engine) Health() types.HealthManager {
	return e.container.GetHealth()
}

// Config exposes the configuration manager.
func (e *Engine) Config() types.ConfigManager {
	return e.container.GetConfig()
}
