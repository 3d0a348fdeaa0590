package sync

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	DefaultSendTimeout = 30 * time.Second
	DefaultBaseDelay   = 5 * time.Minute

	TriggerConnectivityRestored = "connectivity_restored"
	TriggerPeriodic             = "periodic"
	TriggerManual               = "manual"
)

// Manager is the sync scheduler: it owns the single-flight guard and decides
// when a pass runs. Triggers arriving during a pass are skipped, never queued;
// the next periodic tick picks up whatever is left.
type Manager struct {
	ctx             context.Context
	logger          types.Logger
	config          *types.SyncConfig
	sensor          types.ConnectivitySensor
	executor        *executor
	broker          types.EventBroker
	isSyncing       atomic.Bool
	lastPass        atomic.Value
	passDone        atomic.Value
	unsubscribe     func()
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, queue types.MutationQueue, records types.RecordStore, transport types.Transport, sensor types.ConnectivitySensor, broker types.EventBroker) (types.SyncScheduler, error) {
	syncConfig := config.GetConfig().Sync
	if syncConfig == nil || !syncConfig.Enabled {
		return nil, types.ErrSyncIsDisabled
	}

	return newSyncManager(ctx, logger, syncConfig, queue, records, transport, sensor, broker), nil
}

func newSyncManager(ctx context.Context, logger types.Logger, syncConfig *types.SyncConfig, queue types.MutationQueue, records types.RecordStore, transport types.Transport, sensor types.ConnectivitySensor, broker types.EventBroker) *Manager {
	sendTimeout := syncConfig.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}

	baseDelay := syncConfig.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}

	manager := &Manager{
		ctx:             ctx,
		logger:          logger,
		config:          syncConfig,
		sensor:          sensor,
		executor:        newExecutor(logger, queue, records, transport, broker, sendTimeout, baseDelay),
		broker:          broker,
		shutdownTimeout: 30 * time.Second,
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

	m.isSyncing.Store(false)

	online := m.sensor.IsOnline()
	m.unsubscribe = m.sensor.Subscribe(m.onConnectivityChange)

	m.logger.Info("Sync scheduler started", zap.Bool("online", online))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}

	// At most one pass can be in flight; wait for it to drain.
	if v := m.passDone.Load(); v != nil {
		select {
		case <-v.(chan struct{}):
		case <-time.After(m.shutdownTimeout):
			m.logger.Warn("Sync pass did not finish before shutdown timeout")
		}
	}

	m.logger.Info("Sync scheduler stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

// TriggerSync kicks a pass and reports whether one actually started. Skips:
// scheduler not running, sensor offline, or a pass already in flight.
func (m *Manager) TriggerSync(reason string) bool {
	if m.getState() != StateRunning {
		return false
	}

	if !m.sensor.IsOnline() {
		m.logger.Debug("Sync skipped, offline", zap.String("reason", reason))
		return false
	}

	if !m.isSyncing.CompareAndSwap(false, true) {
		m.logger.Debug("Sync skipped, pass already running", zap.String("reason", reason))
		return false
	}

	done := make(chan struct{})
	m.passDone.Store(done)
	go m.runPass(reason, done)

	return true
}

func (m *Manager) IsSyncing() bool {
	return m.isSyncing.Load()
}

func (m *Manager) LastPass() types.PassResult {
	if v := m.lastPass.Load(); v != nil {
		return v.(types.PassResult)
	}
	return types.PassResult{}
}

func (m *Manager) runPass(reason string, done chan struct{}) {
	defer close(done)
	defer m.isSyncing.Store(false)

	m.logger.Info("Sync pass started", zap.String("reason", reason))

	result := m.executor.runPass(m.ctx)
	m.lastPass.Store(result)

	m.logger.Info("Sync pass completed",
		zap.String("reason", reason),
		zap.Int("applied", result.Applied),
		zap.Int("deferred", result.Deferred),
		zap.Int("abandoned", result.Abandoned),
		zap.Duration("duration", result.Duration))

	m.publish(types.EventSyncPassCompleted, map[string]interface{}{
		"reason":    reason,
		"applied":   result.Applied,
		"deferred":  result.Deferred,
		"abandoned": result.Abandoned,
		"duration":  result.Duration.String(),
	})
}

func (m *Manager) onConnectivityChange(online bool) {
	if !online {
		return
	}

	m.TriggerSync(TriggerConnectivityRestored)
}

func (m *Manager) publish(event string, payload interface{}) {
	if m.broker == nil {
		return
	}

	if err := m.broker.Publish(event, payload); err != nil {
		m.logger.Debug("Failed to publish sync event",
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
