package store

import (
	"context"
	"sync/atomic"

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

var customStoreCreators = make(map[string]types.DurableStoreCreator)

func RegisterStore(storeType string, creator types.DurableStoreCreator) {
	customStoreCreators[storeType] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.DurableStore, error) {
	storeConfig := config.GetConfig().Store
	if storeConfig == nil {
		return nil, types.ErrConfigIsNil
	}

	storeType := storeConfig.Type

	var impl types.DurableStore
	var err error

	switch storeType {
	case "sqlite":
		impl, err = NewSQLiteStore(ctx, logger, storeConfig)
	case "clover":
		impl, err = NewCloverStore(ctx, logger, storeConfig)
	case "memory":
		impl, err = NewMemoryStore(ctx, logger, storeConfig)
	default:
		if creator, exists := customStoreCreators[storeType]; exists {
			impl, err = creator(storeConfig)
		} else {
			return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", storeType)
		}
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedStore(logger, impl), nil
}

type instrumentedStore struct {
	impl   types.DurableStore
	logger types.Logger
	state  atomic.Value
}

func newInstrumentedStore(logger types.Logger, impl types.DurableStore) types.DurableStore {
	instrumented := &instrumentedStore{
		impl:   impl,
		logger: logger,
	}

	instrumented.state.Store(StateStopped)
	return instrumented
}

func (s *instrumentedStore) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	err := s.impl.Start()
	if err != nil {
		s.setState(StateStopped)
		return err
	}

	s.logger.Info("Durable store started")
	return nil
}

func (s *instrumentedStore) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	err := s.impl.Stop()
	if err != nil {
		s.logger.Error("Failed to stop store implementation", zap.Error(err))
		return err
	}

	s.logger.Info("Durable store stopped gracefully")
	return nil
}

func (s *instrumentedStore) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *instrumentedStore) Put(ctx context.Context, collection, key string, value []byte) error {
	return s.impl.Put(ctx, collection, key, value)
}

func (s *instrumentedStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	return s.impl.Get(ctx, collection, key)
}

func (s *instrumentedStore) Delete(ctx context.Context, collection, key string) error {
	return s.impl.Delete(ctx, collection, key)
}

func (s *instrumentedStore) Scan(ctx context.Context, collection string, filter types.StoredRecordFilter) ([]types.StoredRecord, error) {
	return s.impl.Scan(ctx, collection, filter)
}

func (s *instrumentedStore) Apply(ctx context.Context, ops []types.StoreOp) error {
	return s.impl.Apply(ctx, ops)
}

func (s *instrumentedStore) Count(ctx context.Context, collection string) (int64, error) {
	return s.impl.Count(ctx, collection)
}

func (s *instrumentedStore) Clear(ctx context.Context, collection string) error {
	return s.impl.Clear(ctx, collection)
}

func (s *instrumentedStore) EnsureCollection(ctx context.Context, collection string) error {
	return s.impl.EnsureCollection(ctx, collection)
}

func (s *instrumentedStore) getState() State {
	return s.state.Load().(State)
}

func (s *instrumentedStore) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *instrumentedStore) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
