package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/types"
)

// newToggleServer serves 200 until down is set, then drops connections so the
// client sees a transport failure instead of an HTTP status.
func newToggleServer(t *testing.T) (*httptest.Server, *atomic.Bool) {
	t.Helper()

	down := &atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, err := hj.Hijack()
				if err == nil {
					_ = conn.Close()
				}
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv, down
}

func newTestProbeSensor(t *testing.T, url string, interval time.Duration, threshold int) *ProbeSensor {
	t.Helper()

	s, err := NewProbeSensor(context.Background(), logger.NewZapWrapper(zap.NewNop()),
		map[string]interface{}{
			"url":               url,
			"interval":          interval,
			"timeout":           time.Second,
			"failure_threshold": threshold,
		})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	t.Cleanup(func() {
		if s.IsRunning() {
			_ = s.Stop()
		}
	})

	return s
}

func TestProbeSensor_StartsOnlineWhenReachable(t *testing.T) {
	srv, _ := newToggleServer(t)

	s := newTestProbeSensor(t, srv.URL, time.Second, 2)
	assert.True(t, s.IsOnline())
}

func TestProbeSensor_StartsOfflineWhenUnreachable(t *testing.T) {
	s := newTestProbeSensor(t, "http://127.0.0.1:1", time.Second, 2)
	assert.False(t, s.IsOnline())
}

func TestProbeSensor_FlipsWithServerAvailability(t *testing.T) {
	srv, down := newToggleServer(t)

	s := newTestProbeSensor(t, srv.URL, 10*time.Millisecond, 2)
	require.True(t, s.IsOnline())

	log := &transitionLog{}
	s.Subscribe(log.record)

	down.Store(true)
	require.Eventually(t, func() bool { return !s.IsOnline() },
		2*time.Second, 5*time.Millisecond, "sensor should flip offline")

	down.Store(false)
	require.Eventually(t, func() bool { return s.IsOnline() },
		2*time.Second, 5*time.Millisecond, "sensor should flip back online")

	transitions := log.transitions()
	require.NotEmpty(t, transitions)
	assert.False(t, transitions[0])
	assert.True(t, transitions[len(transitions)-1])
}

func TestProbeSensor_DebounceStateMachine(t *testing.T) {
	s, err := NewProbeSensor(context.Background(), logger.NewZapWrapper(zap.NewNop()),
		map[string]interface{}{
			"url":               "http://127.0.0.1:1",
			"failure_threshold": 3,
		})
	require.NoError(t, err)

	log := &transitionLog{}
	s.Subscribe(log.record)

	s.observe(true)
	assert.True(t, s.IsOnline())

	// Two failures stay below the threshold of three.
	s.observe(false)
	s.observe(false)
	assert.True(t, s.IsOnline())

	s.observe(false)
	assert.False(t, s.IsOnline())

	// A lone success snaps it back and resets the failure streak.
	s.observe(true)
	assert.True(t, s.IsOnline())
	s.observe(false)
	assert.True(t, s.IsOnline())

	assert.Equal(t, []bool{true, false, true}, log.transitions())
}

func TestProbeSensor_RequiresURL(t *testing.T) {
	_, err := NewProbeSensor(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil)
	assert.True(t, types.IsError(err, types.ErrInvalidParameter))
}

func TestProbeSensor_Lifecycle(t *testing.T) {
	srv, _ := newToggleServer(t)

	s, err := NewProbeSensor(context.Background(), logger.NewZapWrapper(zap.NewNop()),
		map[string]interface{}{"url": srv.URL})
	require.NoError(t, err)

	assert.False(t, s.IsRunning())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	err = s.Start()
	assert.ErrorIs(t, err, types.ErrComponentAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	err = s.Stop()
	assert.ErrorIs(t, err, types.ErrComponentNotRunning)
}
