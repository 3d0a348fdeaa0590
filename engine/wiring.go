package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/queue"
	"github.com/saiset-co/sai-sync/types"

	syncmgr "github.com/saiset-co/sai-sync/sync"
)

const (
	jobSyncPeriodic = "sync_periodic"
	jobCacheSweep   = "cache_sweep"

	sweepTimeout = time.Minute
)

func (e *Engine) registerHealthCheckers(cfg *types.EngineConfig) {
	healthManager := e.container.GetHealth()
	if healthManager == nil {
		return
	}

	if durableStore := e.container.GetStore(); durableStore != nil {
		healthManager.RegisterChecker("store", storeChecker(durableStore))
	}

	if mutationQueue := e.container.GetQueue(); mutationQueue != nil {
		healthManager.RegisterChecker("queue", queueChecker(mutationQueue, cfg.Queue))
	}

	if sensor := e.container.GetConnectivity(); sensor != nil {
		healthManager.RegisterChecker("connectivity", connectivityChecker(sensor))
	}

	if scheduler := e.container.GetSync(); scheduler != nil && cfg.Sync != nil {
		healthManager.RegisterChecker("sync", syncChecker(scheduler, e.container.GetConnectivity(), cfg.Sync))
	}
}

func storeChecker(durableStore types.DurableStore) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		count, err := durableStore.Count(ctx, types.CollectionCacheEntries)
		if err != nil {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: fmt.Sprintf("store unreachable: %v", err),
			}
		}

		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: map[string]interface{}{"cache_entries": count},
		}
	}
}

func queueChecker(mutationQueue types.MutationQueue, queueConfig *types.QueueConfig) types.HealthChecker {
	capacity := queue.DefaultMaxEntries
	if queueConfig != nil && queueConfig.MaxEntries > 0 {
		capacity = queueConfig.MaxEntries
	}

	return func(ctx context.Context) types.HealthCheck {
		depth := mutationQueue.PendingCount()

		check := types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: map[string]interface{}{"depth": depth, "capacity": capacity},
		}

		if depth >= capacity {
			check.Status = types.StatusUnhealthy
			check.Message = "queue at capacity"
		}

		return check
	}
}

// connectivityChecker never reports unhealthy: offline is a normal state
// for this engine, not a failure.
func connectivityChecker(sensor types.ConnectivitySensor) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		online := sensor.IsOnline()

		message := "offline"
		if online {
			message = "online"
		}

		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Message: message,
			Details: map[string]interface{}{"online": online},
		}
	}
}

// syncChecker flags a scheduler whose passes have gone stale while online.
// Offline staleness is expected and stays healthy.
func syncChecker(scheduler types.SyncScheduler, sensor types.ConnectivitySensor, syncConfig *types.SyncConfig) types.HealthChecker {
	interval := syncConfig.Interval

	return func(ctx context.Context) types.HealthCheck {
		lastPass := scheduler.LastPass()
		details := map[string]interface{}{"is_syncing": scheduler.IsSyncing()}

		if lastPass.FinishedAt.IsZero() {
			return types.HealthCheck{
				Status:  types.StatusUnknown,
				Message: "no sync pass completed yet",
				Details: details,
			}
		}

		age := time.Since(lastPass.FinishedAt)
		details["last_pass_age"] = age.String()
		details["last_pass_applied"] = lastPass.Applied

		if sensor != nil && !sensor.IsOnline() {
			return types.HealthCheck{
				Status:  types.StatusHealthy,
				Message: "offline, passes suspended",
				Details: details,
			}
		}

		if interval > 0 && age > 3*interval {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: fmt.Sprintf("last pass %s ago", age.Round(time.Second)),
				Details: details,
			}
		}

		return types.HealthCheck{Status: types.StatusHealthy, Details: details}
	}
}

func (e *Engine) wireEvents(cfg *types.EngineConfig) {
	broker := e.Events()

	if sensor := e.container.GetConnectivity(); sensor != nil && broker != nil {
		unsubscribe := sensor.Subscribe(func(online bool) {
			err := broker.Publish(types.EventConnectivityChanged, map[string]interface{}{"online": online})
			if err != nil {
				e.log.Debug("Failed to publish connectivity event", zap.Error(err))
			}
		})
		e.unsubscribers = append(e.unsubscribers, unsubscribe)
	}

	metricsManager := e.container.GetMetrics()
	if metricsManager == nil || broker == nil || cfg.Metrics == nil || !cfg.Metrics.Collectors.Sync {
		return
	}

	err := broker.Subscribe(types.EventSyncPassCompleted, func(event *types.SyncEvent) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			return nil
		}

		metricsManager.Counter("sync_passes_total", nil).Inc()
		metricsManager.Counter("sync_mutations_applied_total", nil).Add(float64(payloadInt(payload, "applied")))
		metricsManager.Counter("sync_mutations_deferred_total", nil).Add(float64(payloadInt(payload, "deferred")))
		metricsManager.Counter("sync_mutations_abandoned_total", nil).Add(float64(payloadInt(payload, "abandoned")))
		return nil
	})
	if err != nil {
		e.log.Warn("Failed to subscribe sync metrics bridge", zap.Error(err))
	}
}

// payloadInt reads a numeric payload field that arrives as int from local
// dispatch or as float64 after a json round-trip.
func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (e *Engine) registerCronJobs(cfg *types.EngineConfig) {
	cronManager := e.container.GetCron()
	if cronManager == nil {
		return
	}

	if scheduler := e.container.GetSync(); scheduler != nil && cfg.Sync != nil && cfg.Sync.Interval > 0 {
		spec := "@every " + cfg.Sync.Interval.String()
		err := cronManager.Add(jobSyncPeriodic, spec, func() {
			scheduler.TriggerSync(syncmgr.TriggerPeriodic)
		})
		if err != nil {
			e.log.Error("Failed to register periodic sync job", zap.Error(err))
		}
	}

	if cacheManager := e.container.GetCache(); cacheManager != nil && cfg.Cache != nil && cfg.Cache.SweepSchedule != "" {
		if err := cronManager.Add(jobCacheSweep, cfg.Cache.SweepSchedule, e.sweepCache); err != nil {
			e.log.Error("Failed to register cache sweep job", zap.Error(err))
		}
	}
}

func (e *Engine) sweepCache() {
	cacheManager := e.container.GetCache()
	if cacheManager == nil {
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, sweepTimeout)
	defer cancel()

	swept, err := cacheManager.SweepExpired(ctx)
	if err != nil {
		e.log.Warn("Cache sweep failed", zap.Error(err))
		return
	}

	if swept == 0 {
		return
	}

	e.log.Debug("Cache sweep completed", zap.Int("swept", swept))

	if broker := e.Events(); broker != nil {
		if err := broker.Publish(types.EventCacheSwept, map[string]interface{}{"swept": swept}); err != nil {
			e.log.Debug("Failed to publish cache sweep event", zap.Error(err))
		}
	}
}
