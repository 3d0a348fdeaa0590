package connectivity

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/types"
)

func newTestManualSensor(t *testing.T, initialOnline bool) *ManualSensor {
	t.Helper()

	s, err := NewManualSensor(context.Background(), logger.NewZapWrapper(zap.NewNop()),
		map[string]interface{}{"initial_online": initialOnline})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

type transitionLog struct {
	mu   sync.Mutex
	seen []bool
}

func (l *transitionLog) record(online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, online)
}

func (l *transitionLog) transitions() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.seen))
	copy(out, l.seen)
	return out
}

func TestManualSensor_InitialState(t *testing.T) {
	assert.True(t, newTestManualSensor(t, true).IsOnline())
	assert.False(t, newTestManualSensor(t, false).IsOnline())
}

func TestManualSensor_TransitionsNotifyOnce(t *testing.T) {
	s := newTestManualSensor(t, false)

	log := &transitionLog{}
	s.Subscribe(log.record)

	s.SetOnline(true)
	s.SetOnline(true)
	s.SetOnline(false)

	assert.Equal(t, []bool{true, false}, log.transitions())
	assert.False(t, s.IsOnline())
}

func TestManualSensor_Unsubscribe(t *testing.T) {
	s := newTestManualSensor(t, false)

	first := &transitionLog{}
	second := &transitionLog{}
	unsubscribe := s.Subscribe(first.record)
	s.Subscribe(second.record)

	unsubscribe()
	s.SetOnline(true)

	assert.Empty(t, first.transitions())
	assert.Equal(t, []bool{true}, second.transitions())
}

func TestManualSensor_Lifecycle(t *testing.T) {
	s, err := NewManualSensor(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil)
	require.NoError(t, err)

	assert.False(t, s.IsRunning())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	err = s.Start()
	assert.ErrorIs(t, err, types.ErrComponentAlreadyRunning)

	require.NoError(t, s.Stop())
	err = s.Stop()
	assert.ErrorIs(t, err, types.ErrComponentNotRunning)
}
