// Package saisync is an offline-first cache and write-queue engine for Go
// clients of remote HTTP services. Reads are served from a two-tier local
// cache so they keep working without connectivity; writes land in a durable
// outbox and are replayed by a sync scheduler once the endpoint is reachable
// again. Delivery is at-least-once: the remote side is expected to
// deduplicate replays.
//
// The usual entry point is New with a yaml config path, or NewWithConfig for
// embedding apps that build their configuration in process. The Register*
// hooks plug platform-specific backends (storage, cache tiers, reachability
// signals, transports) in under custom type names before the engine is built.
package saisync

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/saiset-co/sai-sync/cache"
	"github.com/saiset-co/sai-sync/connectivity"
	"github.com/saiset-co/sai-sync/engine"
	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/metrics"
	"github.com/saiset-co/sai-sync/notify"
	"github.com/saiset-co/sai-sync/store"
	"github.com/saiset-co/sai-sync/transport"
	"github.com/saiset-co/sai-sync/types"

	syncmgr "github.com/saiset-co/sai-sync/sync"
)

// Engine is the assembled component graph. See the engine package for the
// full facade.
type Engine = engine.Engine

// Config is the root configuration document. Sections left nil fall back to
// built-in defaults.
type Config = types.EngineConfig

type (
	EnqueueRequest    = types.EnqueueRequest
	CacheOptions      = types.CacheOptions
	CacheEntry        = types.CacheEntry
	SyncStatus        = types.SyncStatus
	LocalDomainRecord = types.LocalDomainRecord
	SyncEvent         = types.SyncEvent
)

// Trigger reasons accepted by Engine.TriggerSync.
const (
	TriggerManual               = syncmgr.TriggerManual
	TriggerPeriodic             = syncmgr.TriggerPeriodic
	TriggerConnectivityRestored = syncmgr.TriggerConnectivityRestored
)

// New builds an engine from a yaml config file. The engine is not started.
func New(ctx context.Context, configPath string) (*Engine, error) {
	return engine.New(ctx, configPath)
}

// NewWithConfig builds an engine from an in-process config.
func NewWithConfig(ctx context.Context, config *Config) (*Engine, error) {
	return engine.NewWithConfig(ctx, config)
}

// Run builds and starts an engine, then blocks until the context ends or an
// interrupt arrives. Meant for standalone binaries; embedding apps drive the
// lifecycle themselves.
func Run(ctx context.Context, configPath string) error {
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(runCtx, configPath)
	if err != nil {
		return err
	}

	if err := eng.Start(); err != nil {
		return err
	}

	<-runCtx.Done()

	if err := eng.Stop(); err != nil && !types.IsError(err, types.ErrEngineIsNotRunning) {
		return err
	}

	return nil
}

// RegisterStore plugs a custom durable store in under its own type name.
func RegisterStore(storeType string, creator types.DurableStoreCreator) {
	store.RegisterStore(storeType, creator)
}

// RegisterCacheTier plugs a custom hot-tier backend in.
func RegisterCacheTier(tierName string, creator types.CacheTierCreator) {
	cache.RegisterCacheTier(tierName, creator)
}

// RegisterSensor plugs a platform reachability signal in.
func RegisterSensor(sensorType string, creator types.ConnectivitySensorCreator) {
	connectivity.RegisterSensor(sensorType, creator)
}

// RegisterTransport plugs an authenticated or otherwise customized
// transport in.
func RegisterTransport(transportType string, creator types.TransportCreator) {
	transport.RegisterTransport(transportType, creator)
}

// RegisterEventBroker plugs a custom outbound event leg in.
func RegisterEventBroker(brokerName string, creator types.EventBrokerCreator) {
	notify.RegisterEventBroker(brokerName, creator)
}

// RegisterMetricsManager plugs a custom metrics backend in.
func RegisterMetricsManager(name string, creator types.MetricsManagerCreator) {
	metrics.RegisterMetricsManager(name, creator)
}

// RegisterLogger plugs a custom logger in.
func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	logger.RegisterLogger(loggerName, creator)
}
