package engine

import (
	"sync/atomic"

	"github.com/saiset-co/sai-sync/types"
)

// Container holds every manager behind an atomic pointer so facade calls
// can race with registration and shutdown. Components disabled by config
// simply stay unset; getters return nil for them.
type Container struct {
	Config       atomic.Pointer[types.ConfigManager]
	Logger       atomic.Pointer[types.LoggerManager]
	Store        atomic.Pointer[types.DurableStore]
	Records      atomic.Pointer[types.RecordStore]
	Cache        atomic.Pointer[types.CacheManager]
	Queue        atomic.Pointer[types.MutationQueue]
	Connectivity atomic.Pointer[types.ConnectivitySensor]
	Transport    atomic.Pointer[types.Transport]
	Sync         atomic.Pointer[types.SyncScheduler]
	Notify       atomic.Pointer[types.NotifyManager]
	Cron         atomic.Pointer[types.CronManager]
	Metrics      atomic.Pointer[types.MetricsManager]
	Health       atomic.Pointer[types.HealthManager]
}

func NewContainer() *Container {
	return &Container{}
}

func (c *Container) SetConfig(config types.ConfigManager) {
	c.Config.Store(&config)
}

func (c *Container) SetLogger(logger types.LoggerManager) {
	c.Logger.Store(&logger)
}

func (c *Container) SetStore(store types.DurableStore) {
	c.Store.Store(&store)
}

func (c *Container) SetRecords(records types.RecordStore) {
	c.Records.Store(&records)
}

func (c *Container) SetCache(cache types.CacheManager) {
	c.Cache.Store(&cache)
}

func (c *Container) SetQueue(queue types.MutationQueue) {
	c.Queue.Store(&queue)
}

func (c *Container) SetConnectivity(sensor types.ConnectivitySensor) {
	c.Connectivity.Store(&sensor)
}

func (c *Container) SetTransport(transport types.Transport) {
	c.Transport.Store(&transport)
}

func (c *Container) SetSync(scheduler types.SyncScheduler) {
	c.Sync.Store(&scheduler)
}

func (c *Container) SetNotify(notify types.NotifyManager) {
	c.Notify.Store(&notify)
}

func (c *Container) SetCron(cron types.CronManager) {
	c.Cron.Store(&cron)
}

func (c *Container) SetMetrics(metrics types.MetricsManager) {
	c.Metrics.Store(&metrics)
}

func (c *Container) SetHealth(health types.HealthManager) {
	c.Health.Store(&health)
}

func (c *Container) GetConfig() types.ConfigManager {
	if ptr := c.Config.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetLogger() types.LoggerManager {
	if ptr := c.Logger.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetStore() types.DurableStore {
	if ptr := c.Store.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetRecords() types.RecordStore {
	if ptr := c.Records.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetCache() types.CacheManager {
	if ptr := c.Cache.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetQueue() types.MutationQueue {
	if ptr := c.Queue.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetConnectivity() types.ConnectivitySensor {
	if ptr := c.Connectivity.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetTransport() types.Transport {
	if ptr := c.Transport.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetSync() types.SyncScheduler {
	if ptr := c.Sync.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetNotify() types.NotifyManager {
	if ptr := c.Notify.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetCron() types.CronManager {
	if ptr := c.Cron.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetMetrics() types.MetricsManager {
	if ptr := c.Metrics.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) GetHealth() types.HealthManager {
	if ptr := c.Health.Load(); ptr != nil {
		return *ptr
	}
	return nil
}
