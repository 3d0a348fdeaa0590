package connectivity

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

type ManualSensorConfig struct {
	InitialOnline bool `yaml:"initial_online" json:"initial_online"`
}

// ManualSensor is driven entirely by the host application, for platforms with
// a native reachability signal.
type ManualSensor struct {
	ctx       context.Context
	logger    types.Logger
	online    bool
	subs      map[int64]func(online bool)
	nextSubID int64
	mu        sync.RWMutex
	started   int32
}

func NewManualSensor(ctx context.Context, logger types.Logger, config interface{}) (*ManualSensor, error) {
	sensorConfig := &ManualSensorConfig{}

	if config != nil {
		if err := utils.UnmarshalConfig(config, sensorConfig); err != nil {
			return nil, types.WrapError(err, "failed to parse manual sensor config")
		}
	}

	return &ManualSensor{
		ctx:    ctx,
		logger: logger,
		online: sensorConfig.InitialOnline,
		subs:   make(map[int64]func(online bool)),
	}, nil
}

func (s *ManualSensor) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	s.logger.Info("Manual sensor started", zap.Bool("online", s.IsOnline()))
	return nil
}

func (s *ManualSensor) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	s.logger.Info("Manual sensor stopped gracefully")
	return nil
}

func (s *ManualSensor) IsRunning() bool {
	return atomic.LoadInt32(&s.started) == 1
}

func (s *ManualSensor) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// SetOnline feeds the host's reachability signal in. Subscribers are called
// only when the state actually changes.
func (s *ManualSensor) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	s.mu.Unlock()

	s.logger.Info("Connectivity changed", zap.Bool("online", online))
	s.notify(online)
}

func (s *ManualSensor) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *ManualSensor) notify(online bool) {
	s.mu.RLock()
	handlers := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(online)
	}
}
