package engine

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-sync/cache"
	"github.com/saiset-co/sai-sync/config"
	"github.com/saiset-co/sai-sync/connectivity"
	"github.com/saiset-co/sai-sync/cron"
	"github.com/saiset-co/sai-sync/health"
	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/metrics"
	"github.com/saiset-co/sai-sync/notify"
	"github.com/saiset-co/sai-sync/queue"
	"github.com/saiset-co/sai-sync/records"
	"github.com/saiset-co/sai-sync/store"
	"github.com/saiset-co/sai-sync/transport"
	"github.com/saiset-co/sai-sync/types"

	syncmgr "github.com/saiset-co/sai-sync/sync"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Engine wires the managers together and owns their lifecycle. Components
// start in dependency order: the durable store before everything that
// writes through it, the queue before the scheduler that drains it, cron
// last so no job fires against a half-started engine. Telemetry components
// (metrics, notify, health) are optional and their startup failures are
// logged, never fatal.
type Engine struct {
	ctx             context.Context
	cancel          context.CancelFunc
	container       *Container
	log             types.LoggerManager
	state           atomic.Value
	wg              sync.WaitGroup
	unsubscribers   []func()
	shutdownTimeout time.Duration
	startTimeout    time.Duration
}

// New builds an engine from a yaml config file.
func New(ctx context.Context, configPath string) (*Engine, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "config file does not exist")
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to load configuration")
	}

	return newEngine(ctx, configManager)
}

// NewWithConfig builds an engine from an in-process config, for embedding
// apps that do not ship a config file.
func NewWithConfig(ctx context.Context, engineConfig *types.EngineConfig) (*Engine, error) {
	configManager, err := config.NewStaticManager(ctx, engineConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to build configuration")
	}

	return newEngine(ctx, configManager)
}

func newEngine(ctx context.Context, configManager types.ConfigManager) (*Engine, error) {
	engineCtx, cancel := context.WithCancel(ctx)

	engine := &Engine{
		ctx:             engineCtx,
		cancel:          cancel,
		container:       NewContainer(),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	engine.state.Store(StateStopped)

	if err := engine.registerComponents(configManager); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register components")
	}

	return engine, nil
}

func (e *Engine) registerComponents(configManager types.ConfigManager) error {
	e.container.SetConfig(configManager)
	cfg := configManager.GetConfig()

	loggerManager, err := logger.NewManager(e.ctx, configManager)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}
	e.container.SetLogger(loggerManager)
	e.log = loggerManager

	var metricsManager types.MetricsManager
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsManager, err = metrics.NewManager(e.ctx, configManager, loggerManager)
		if err != nil {
			return types.WrapError(err, "failed to register metrics manager")
		}
		e.container.SetMetrics(metricsManager)
	}

	var cacheMetrics, queueMetrics types.MetricsManager
	if metricsManager != nil {
		if cfg.Metrics.Collectors.Cache {
			cacheMetrics = metricsManager
		}
		if cfg.Metrics.Collectors.Queue {
			queueMetrics = metricsManager
		}
	}

	durableStore, err := store.NewManager(e.ctx, configManager, loggerManager)
	if err != nil {
		return types.WrapError(err, "failed to register durable store")
	}
	e.container.SetStore(durableStore)

	recordStore := records.NewManager(e.ctx, loggerManager, durableStore)
	e.container.SetRecords(recordStore)

	// The broker stays nil when notify is disabled; every component
	// publishing through it guards for that.
	var broker types.EventBroker
	if cfg.Notify != nil && cfg.Notify.Enabled {
		notifyManager, err := notify.NewManager(e.ctx, configManager, loggerManager, durableStore)
		if err != nil {
			return types.WrapError(err, "failed to register notify dispatcher")
		}
		e.container.SetNotify(notifyManager)
		broker = notifyManager
	}

	if cfg.Cache != nil && cfg.Cache.Enabled {
		cacheManager, err := cache.NewManager(e.ctx, configManager, loggerManager, cacheMetrics, durableStore)
		if err != nil {
			return types.WrapError(err, "failed to register cache manager")
		}
		e.container.SetCache(cacheManager)
	}

	mutationQueue, err := queue.NewManager(e.ctx, configManager, loggerManager, queueMetrics, durableStore, recordStore, broker)
	if err != nil {
		return types.WrapError(err, "failed to register mutation queue")
	}
	e.container.SetQueue(mutationQueue)

	sensor, err := connectivity.NewManager(e.ctx, configManager, loggerManager)
	if err != nil {
		return types.WrapError(err, "failed to register connectivity sensor")
	}
	e.container.SetConnectivity(sensor)

	remoteTransport, err := transport.NewManager(e.ctx, configManager, loggerManager)
	if err != nil {
		return types.WrapError(err, "failed to register transport")
	}
	e.container.SetTransport(remoteTransport)

	if cfg.Sync != nil && cfg.Sync.Enabled {
		scheduler, err := syncmgr.NewManager(e.ctx, configManager, loggerManager, mutationQueue, recordStore, remoteTransport, sensor, broker)
		if err != nil {
			return types.WrapError(err, "failed to register sync scheduler")
		}
		e.container.SetSync(scheduler)
	}

	if cfg.Cron != nil && cfg.Cron.Enabled {
		cronManager, err := cron.NewManager(e.ctx, configManager, loggerManager, metricsManager)
		if err != nil {
			return types.WrapError(err, "failed to register cron manager")
		}
		e.container.SetCron(cronManager)
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		healthManager, err := health.NewManager(e.ctx, configManager, loggerManager)
		if err != nil {
			return types.WrapError(err, "failed to register health manager")
		}
		e.container.SetHealth(healthManager)
	}

	return nil
}

func (e *Engine) Start() error {
	if !e.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineIsRunning
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.startTimeout)
	defer cancel()

	if err := e.startComponents(ctx); err != nil {
		// Unwind whatever came up before the failure.
		if stopErr := e.stopComponents(); stopErr != nil {
			e.log.Error("Error unwinding partial start", zap.Error(stopErr))
		}
		e.setState(StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	e.setState(StateRunning)

	e.wg.Add(1)
	go e.contextMonitor()

	e.log.Info("Engine started")
	return nil
}

func (e *Engine) Stop() error {
	if !e.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineIsNotRunning
	}

	err := e.stopComponents()
	e.setState(StateStopped)
	e.cancel()
	e.wg.Wait()

	e.log.Info("Engine stopped gracefully")
	return err
}

func (e *Engine) IsRunning() bool {
	return e.getState() == StateRunning
}

// Done closes when the engine context ends, so callers can block on
// shutdown driven by a parent context.
func (e *Engine) Done() <-chan struct{} {
	return e.ctx.Done()
}

func (e *Engine) startComponents(ctx context.Context) error {
	configManager := e.container.GetConfig()
	cfg := configManager.GetConfig()

	if lifecycle, ok := configManager.(types.LifecycleManager); ok {
		if err := lifecycle.Start(); err != nil {
			return types.WrapError(err, "failed to start config manager")
		}
	}

	if err := e.log.Start(); err != nil {
		return types.WrapError(err, "failed to start logger")
	}

	// Durable tier before anything that writes through it.
	if durableStore := e.container.GetStore(); durableStore != nil {
		if err := durableStore.Start(); err != nil {
			return types.WrapError(err, "failed to start durable store")
		}
	}

	if recordStore := e.container.GetRecords(); recordStore != nil {
		if err := recordStore.Start(); err != nil {
			return types.WrapError(err, "failed to start record store")
		}
	}

	// Telemetry components start in parallel; failures degrade, never abort.
	g, gCtx := errgroup.WithContext(ctx)

	if metricsManager := e.container.GetMetrics(); metricsManager != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := metricsManager.Start(); err != nil {
					e.log.Error("Failed to start metrics manager", zap.Error(err))
				}
				return nil
			}
		})
	}

	if notifyManager := e.container.GetNotify(); notifyManager != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := notifyManager.Start(); err != nil {
					e.log.Error("Failed to start notify dispatcher", zap.Error(err))
				}
				return nil
			}
		})
	}

	if healthManager := e.container.GetHealth(); healthManager != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := healthManager.Start(); err != nil {
					e.log.Error("Failed to start health manager", zap.Error(err))
				}
				return nil
			}
		})
	}

	if cacheManager := e.container.GetCache(); cacheManager != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := cacheManager.Start(); err != nil {
					e.log.Error("Failed to start cache manager", zap.Error(err))
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return types.NewErrorf("component startup timeout: %v", ctx.Err())
		default:
			return err
		}
	}

	// Write path: the queue rebuilds its index from the store on Start.
	if mutationQueue := e.container.GetQueue(); mutationQueue != nil {
		if err := mutationQueue.Start(); err != nil {
			return types.WrapError(err, "failed to start mutation queue")
		}
	}

	if sensor := e.container.GetConnectivity(); sensor != nil {
		if err := sensor.Start(); err != nil {
			return types.WrapError(err, "failed to start connectivity sensor")
		}
	}

	if remoteTransport := e.container.GetTransport(); remoteTransport != nil {
		if err := remoteTransport.Start(); err != nil {
			return types.WrapError(err, "failed to start transport")
		}
	}

	if scheduler := e.container.GetSync(); scheduler != nil {
		if err := scheduler.Start(); err != nil {
			return types.WrapError(err, "failed to start sync scheduler")
		}
	}

	e.registerHealthCheckers(cfg)
	e.wireEvents(cfg)
	e.registerCronJobs(cfg)

	if cronManager := e.container.GetCron(); cronManager != nil {
		if err := cronManager.Start(); err != nil {
			e.log.Error("Failed to start cron manager", zap.Error(err))
		}
	}

	e.log.Info("All components started successfully")
	return nil
}

func (e *Engine) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()

	var errs []error

	e.log.Info("Stopping engine components...")

	for _, unsubscribe := range e.unsubscribers {
		unsubscribe()
	}
	e.unsubscribers = nil

	// Cron first so no job fires mid-shutdown, then the scheduler, which
	// waits for an in-flight pass before returning.
	if err := e.stopComponent("cron manager", e.container.GetCron()); err != nil {
		errs = append(errs, err)
	}

	if err := e.stopComponent("sync scheduler", e.container.GetSync()); err != nil {
		errs = append(errs, err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	for name, manager := range map[string]types.LifecycleManager{
		"notify dispatcher":   e.container.GetNotify(),
		"connectivity sensor": e.container.GetConnectivity(),
		"transport":           e.container.GetTransport(),
	} {
		name, manager := name, manager
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				return e.stopComponent(name, manager)
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			e.log.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = append(errs, err)
		}
	}

	if err := e.stopComponent("mutation queue", e.container.GetQueue()); err != nil {
		errs = append(errs, err)
	}

	g, _ = errgroup.WithContext(context.Background())

	for name, manager := range map[string]types.LifecycleManager{
		"cache manager":   e.container.GetCache(),
		"metrics manager": e.container.GetMetrics(),
		"health manager":  e.container.GetHealth(),
	} {
		name, manager := name, manager
		g.Go(func() error {
			return e.stopComponent(name, manager)
		})
	}

	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := e.stopComponent("record store", e.container.GetRecords()); err != nil {
		errs = append(errs, err)
	}

	if err := e.stopComponent("durable store", e.container.GetStore()); err != nil {
		errs = append(errs, err)
	}

	if err := e.stopComponent("logger", e.log); err != nil {
		errs = append(errs, err)
	}

	if configManager := e.container.GetConfig(); configManager != nil {
		if lifecycle, ok := configManager.(types.LifecycleManager); ok {
			if err := e.stopComponent("config manager", lifecycle); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	e.log.Info("All components stopped successfully")
	return nil
}

// stopComponent skips components that never started, so an engine whose
// optional pieces failed to come up still shuts down clean.
func (e *Engine) stopComponent(name string, manager types.LifecycleManager) error {
	if manager == nil || !manager.IsRunning() {
		return nil
	}

	if err := manager.Stop(); err != nil {
		e.log.Error("Failed to stop "+name, zap.Error(err))
		return err
	}

	return nil
}

// contextMonitor shuts the engine down when the parent context ends. The
// state CAS makes it mutually exclusive with an explicit Stop call.
func (e *Engine) contextMonitor() {
	defer e.wg.Done()

	<-e.ctx.Done()

	if e.transitionState(StateRunning, StateStopping) {
		e.log.Info("Engine context cancelled, shutting down")
		if err := e.stopComponents(); err != nil {
			e.log.Error("Error during engine shutdown", zap.Error(err))
		}
		e.setState(StateStopped)
	}
}

func (e *Engine) getState() State {
	return e.state.Load().(State)
}

func (e *Engine) setState(newState State) bool {
	currentState := e.getState()
	return e.state.CompareAndSwap(currentState, newState)
}

func (e *Engine) transitionState(from, to State) bool {
	return e.state.CompareAndSwap(from, to)
}
