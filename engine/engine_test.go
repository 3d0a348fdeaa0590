package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-sync/connectivity"
	"github.com/saiset-co/sai-sync/transport"
	"github.com/saiset-co/sai-sync/types"

	syncmgr "github.com/saiset-co/sai-sync/sync"
)

// recordingTransport captures every send so tests can assert on the wire
// traffic without a live endpoint.
type recordingTransport struct {
	mu      sync.Mutex
	sends   []recordedSend
	running atomic.Bool
}

type recordedSend struct {
	Endpoint string
	Method   string
	Payload  []byte
}

func (rt *recordingTransport) Start() error {
	rt.running.Store(true)
	return nil
}

func (rt *recordingTransport) Stop() error {
	rt.running.Store(false)
	return nil
}

func (rt *recordingTransport) IsRunning() bool {
	return rt.running.Load()
}

func (rt *recordingTransport) Send(ctx context.Context, endpoint, method string, payload []byte, headers map[string]string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.sends = append(rt.sends, recordedSend{
		Endpoint: endpoint,
		Method:   method,
		Payload:  append([]byte(nil), payload...),
	})
	return nil
}

func (rt *recordingTransport) sendCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.sends)
}

func (rt *recordingTransport) lastSend() recordedSend {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.sends[len(rt.sends)-1]
}

// activeRecorder is swapped per test; the creator registered in init hands
// it to whichever engine is being built.
var activeRecorder atomic.Pointer[recordingTransport]

func init() {
	transport.RegisterTransport("test-recorder", func(config interface{}) (types.Transport, error) {
		return activeRecorder.Load(), nil
	})
}

func testConfig(online bool) *types.EngineConfig {
	return &types.EngineConfig{
		Name:    "engine-test",
		Version: "0.1.0",
		Logger:  &types.LoggerConfig{Level: "error"},
		Store:   &types.StoreConfig{Type: "memory"},
		Sync: &types.SyncConfig{
			Enabled:     true,
			Interval:    time.Hour,
			SendTimeout: 2 * time.Second,
			BaseDelay:   time.Hour,
		},
		Connectivity: &types.ConnectivityConfig{
			Type:   "manual",
			Config: map[string]interface{}{"initial_online": online},
		},
		Transport: &types.TransportConfig{Type: "test-recorder"},
	}
}

func newTestEngine(t *testing.T, engineConfig *types.EngineConfig) (*Engine, *recordingTransport) {
	t.Helper()

	recorder := &recordingTransport{}
	activeRecorder.Store(recorder)

	eng, err := NewWithConfig(context.Background(), engineConfig)
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	t.Cleanup(func() {
		if eng.IsRunning() {
			require.NoError(t, eng.Stop())
		}
	})

	return eng, recorder
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.True(t, types.IsError(err, types.ErrConfigInvalidPath))

	_, err = New(context.Background(), "does-not-exist.yml")
	assert.Error(t, err)
}

func TestNewWithConfig_NilConfig(t *testing.T) {
	_, err := NewWithConfig(context.Background(), nil)
	assert.True(t, types.IsError(err, types.ErrConfigIsNil))
}

func TestEngine_Lifecycle(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(true))

	assert.True(t, eng.IsRunning())
	assert.True(t, types.IsError(eng.Start(), types.ErrEngineIsRunning))

	require.NoError(t, eng.Stop())
	assert.False(t, eng.IsRunning())
	assert.True(t, types.IsError(eng.Stop(), types.ErrEngineIsNotRunning))
}

func TestEngine_CallsBeforeStartFail(t *testing.T) {
	recorder := &recordingTransport{}
	activeRecorder.Store(recorder)

	eng, err := NewWithConfig(context.Background(), testConfig(true))
	require.NoError(t, err)

	ctx := context.Background()

	err = eng.CacheResponse(ctx, "GET /api/tasks", []byte(`[]`), nil)
	assert.True(t, types.IsError(err, types.ErrEngineIsNotRunning))

	_, err = eng.GetCachedResponse(ctx, "GET /api/tasks")
	assert.True(t, types.IsError(err, types.ErrEngineIsNotRunning))

	_, err = eng.EnqueueMutation(ctx, &types.EnqueueRequest{Endpoint: "/api/tasks", Method: "POST"})
	assert.True(t, types.IsError(err, types.ErrEngineIsNotRunning))
}

func TestEngine_CacheRoundTrip(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(true))
	ctx := context.Background()

	err := eng.CacheResponse(ctx, "GET /api/tasks", []byte(`[{"id":1}]`), &types.CacheOptions{
		ContentType: "application/json",
	})
	require.NoError(t, err)

	entry, err := eng.GetCachedResponse(ctx, "GET /api/tasks")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[{"id":1}]`), entry.Payload)
	assert.Equal(t, "application/json", entry.ContentType)

	_, err = eng.GetCachedResponse(ctx, "GET /api/missing")
	assert.True(t, types.IsError(err, types.ErrCacheEntryNotFound))
}

func TestEngine_OfflineEnqueueThenReconnect(t *testing.T) {
	eng, recorder := newTestEngine(t, testConfig(false))
	ctx := context.Background()

	id, err := eng.EnqueueMutation(ctx, &types.EnqueueRequest{
		Endpoint: "/api/tasks",
		Method:   "POST",
		Payload:  []byte(`{"title":"offline draft"}`),
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	status := eng.GetSyncStatus()
	assert.False(t, status.IsOnline)
	assert.Equal(t, 1, status.PendingCount)
	assert.Zero(t, recorder.sendCount())

	// Going online fires a connectivity-restored pass on its own.
	sensor, ok := eng.Connectivity().(*connectivity.ManualSensor)
	require.True(t, ok)
	sensor.SetOnline(true)

	require.Eventually(t, func() bool {
		current := eng.GetSyncStatus()
		return current.PendingCount == 0 && current.LastPassApplied == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, recorder.sendCount())
	sent := recorder.lastSend()
	assert.Equal(t, "/api/tasks", sent.Endpoint)
	assert.Equal(t, "POST", sent.Method)
	assert.Equal(t, []byte(`{"title":"offline draft"}`), sent.Payload)

	status = eng.GetSyncStatus()
	assert.True(t, status.IsOnline)
	assert.False(t, status.LastPassAt.IsZero())
}

func TestEngine_TriggerSyncManual(t *testing.T) {
	eng, recorder := newTestEngine(t, testConfig(true))
	ctx := context.Background()

	_, err := eng.EnqueueMutation(ctx, &types.EnqueueRequest{
		Endpoint: "/api/notes",
		Method:   "PUT",
		Payload:  []byte(`{"body":"updated"}`),
	})
	require.NoError(t, err)

	assert.True(t, eng.TriggerSync(syncmgr.TriggerManual))

	require.Eventually(t, func() bool {
		return recorder.sendCount() == 1 && eng.GetSyncStatus().PendingCount == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEngine_RecordMarkedSyncedAfterPass(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(true))
	ctx := context.Background()

	_, err := eng.EnqueueMutation(ctx, &types.EnqueueRequest{
		Endpoint: "/api/tasks",
		Method:   "POST",
		Payload:  []byte(`{"title":"first"}`),
		Record: &types.LocalDomainRecord{
			LocalID: "draft-1",
			Kind:    "task",
			Fields:  map[string]interface{}{"title": "first"},
		},
	})
	require.NoError(t, err)

	rec, err := eng.Records().Get(ctx, "draft-1")
	require.NoError(t, err)
	assert.False(t, rec.IsSynced)

	require.True(t, eng.TriggerSync(syncmgr.TriggerManual))

	require.Eventually(t, func() bool {
		rec, err := eng.Records().Get(ctx, "draft-1")
		return err == nil && rec.IsSynced
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEngine_ClearAll(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(false))
	ctx := context.Background()

	require.NoError(t, eng.CacheResponse(ctx, "GET /api/tasks", []byte(`[]`), nil))

	_, err := eng.EnqueueMutation(ctx, &types.EnqueueRequest{
		Endpoint: "/api/tasks",
		Method:   "POST",
		Payload:  []byte(`{}`),
	})
	require.NoError(t, err)

	require.NoError(t, eng.ClearAll(ctx))

	status := eng.GetSyncStatus()
	assert.Zero(t, status.PendingCount)
	assert.Zero(t, status.CacheSize)

	_, err = eng.GetCachedResponse(ctx, "GET /api/tasks")
	assert.True(t, types.IsError(err, types.ErrCacheEntryNotFound))
}

func TestEngine_HealthReport(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(true))

	healthManager := eng.Health()
	require.NotNil(t, healthManager)

	report := healthManager.Check(context.Background())

	for _, name := range []string{"runtime", "store", "queue", "connectivity", "sync"} {
		assert.Contains(t, report.Checks, name)
	}

	assert.Equal(t, types.StatusHealthy, report.Checks["store"].Status)
	assert.Equal(t, types.StatusHealthy, report.Checks["queue"].Status)
	assert.Equal(t, types.StatusHealthy, report.Checks["connectivity"].Status)

	// No pass has completed yet, so the sync probe reports unknown and
	// drags the overall status with it.
	assert.Equal(t, types.StatusUnknown, report.Checks["sync"].Status)
	assert.Equal(t, types.StatusUnknown, report.Status)
	assert.Equal(t, 5, report.Summary.Total)
	assert.Equal(t, 4, report.Summary.Healthy)
	assert.Equal(t, 1, report.Summary.Unknown)

	assert.Equal(t, "engine-test", report.Service.Name)
	assert.Equal(t, "0.1.0", report.Service.Version)
}

func TestEngine_OfflineConnectivityStaysHealthy(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(false))

	report := eng.Health().Check(context.Background())

	check := report.Checks["connectivity"]
	assert.Equal(t, types.StatusHealthy, check.Status)
	assert.Equal(t, "offline", check.Message)
	assert.Equal(t, false, check.Details["online"])
}

func TestEngine_EventsDeliverSyncPass(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(true))
	ctx := context.Background()

	events := make(chan *types.SyncEvent, 1)
	broker := eng.Events()
	require.NotNil(t, broker)

	err := broker.Subscribe(types.EventSyncPassCompleted, func(event *types.SyncEvent) error {
		select {
		case events <- event:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	_, err = eng.EnqueueMutation(ctx, &types.EnqueueRequest{
		Endpoint: "/api/tasks",
		Method:   "POST",
		Payload:  []byte(`{}`),
	})
	require.NoError(t, err)
	require.True(t, eng.TriggerSync(syncmgr.TriggerManual))

	select {
	case event := <-events:
		payload, ok := event.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, 1, payload["applied"])
		assert.Equal(t, syncmgr.TriggerManual, payload["reason"])
		assert.Equal(t, "engine-test", event.Source)
	case <-time.After(3 * time.Second):
		t.Fatal("sync pass event was not delivered")
	}
}

func TestEngine_SyncDisabledStillServesCache(t *testing.T) {
	engineConfig := testConfig(true)
	engineConfig.Sync = &types.SyncConfig{Enabled: false}

	eng, _ := newTestEngine(t, engineConfig)
	ctx := context.Background()

	require.NoError(t, eng.CacheResponse(ctx, "GET /api/tasks", []byte(`[]`), nil))

	entry, err := eng.GetCachedResponse(ctx, "GET /api/tasks")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), entry.Payload)

	assert.False(t, eng.TriggerSync(syncmgr.TriggerManual))
	assert.Nil(t, eng.container.GetSync())
}

func TestEngine_ParentContextCancelShutsDown(t *testing.T) {
	recorder := &recordingTransport{}
	activeRecorder.Store(recorder)

	ctx, cancel := context.WithCancel(context.Background())
	eng, err := NewWithConfig(ctx, testConfig(true))
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	cancel()

	require.Eventually(t, func() bool {
		return !eng.IsRunning()
	}, 3*time.Second, 10*time.Millisecond)

	select {
	case <-eng.Done():
	default:
		t.Fatal("Done channel should be closed after context cancellation")
	}

	assert.True(t, types.IsError(eng.Stop(), types.ErrEngineIsNotRunning))
}
