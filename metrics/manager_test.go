package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/config"
	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

func newTestMetrics(t *testing.T, metricsConfig *types.MetricsConfig) types.MetricsManager {
	t.Helper()

	mgr := newStoppedTestMetrics(t, metricsConfig)
	require.NoError(t, mgr.Start())
	t.Cleanup(func() { _ = mgr.Stop() })

	return mgr
}

func newStoppedTestMetrics(t *testing.T, metricsConfig *types.MetricsConfig) types.MetricsManager {
	t.Helper()

	cm, err := config.NewStaticManager(context.Background(), &types.EngineConfig{
		Name:    "metrics-test",
		Version: "0.1.0",
		Metrics: metricsConfig,
	})
	require.NoError(t, err)

	mgr, err := NewManager(context.Background(), cm, logger.NewZapWrapper(zap.NewNop()))
	require.NoError(t, err)

	return mgr
}

func TestNewManager_Disabled(t *testing.T) {
	cm, err := config.NewStaticManager(context.Background(), &types.EngineConfig{
		Name:    "metrics-test",
		Version: "0.1.0",
		Metrics: &types.MetricsConfig{Enabled: false, Type: "memory"},
	})
	require.NoError(t, err)

	_, err = NewManager(context.Background(), cm, logger.NewZapWrapper(zap.NewNop()))
	assert.ErrorIs(t, err, types.ErrMetricsIsDisabled)
}

func TestNewManager_UnknownType(t *testing.T) {
	cm, err := config.NewStaticManager(context.Background(), &types.EngineConfig{
		Name:    "metrics-test",
		Version: "0.1.0",
		Metrics: &types.MetricsConfig{Enabled: true, Type: "smoke-signals"},
	})
	require.NoError(t, err)

	_, err = NewManager(context.Background(), cm, logger.NewZapWrapper(zap.NewNop()))
	assert.True(t, types.IsError(err, types.ErrMetricsTypeUnknown))
}

type stubMetrics struct{ types.MetricsManager }

func (s *stubMetrics) Start() error    { return nil }
func (s *stubMetrics) Stop() error     { return nil }
func (s *stubMetrics) IsRunning() bool { return true }

func TestRegisterMetricsManager_CustomCreator(t *testing.T) {
	RegisterMetricsManager("stub", func(config interface{}) (types.MetricsManager, error) {
		return &stubMetrics{}, nil
	})

	mgr := newTestMetrics(t, &types.MetricsConfig{Enabled: true, Type: "stub"})
	assert.True(t, mgr.IsRunning())
}

func TestManager_InstrumentsBeforeStartAreNoOps(t *testing.T) {
	mgr := newStoppedTestMetrics(t, &types.MetricsConfig{Enabled: true, Type: "memory"})

	counter := mgr.Counter("orphan_total", nil)
	counter.Inc()
	counter.Add(10)
	assert.Zero(t, counter.Get())

	gauge := mgr.Gauge("orphan_depth", nil)
	gauge.Set(42)
	assert.Zero(t, gauge.Get())

	_, err := mgr.GetMetrics()
	assert.ErrorIs(t, err, types.ErrComponentNotRunning)

	_, err = mgr.GetStats()
	assert.ErrorIs(t, err, types.ErrComponentNotRunning)
}

func TestManager_Lifecycle(t *testing.T) {
	mgr := newStoppedTestMetrics(t, &types.MetricsConfig{Enabled: true, Type: "memory"})

	require.NoError(t, mgr.Start())
	assert.ErrorIs(t, mgr.Start(), types.ErrComponentAlreadyRunning)

	require.NoError(t, mgr.Stop())
	assert.ErrorIs(t, mgr.Stop(), types.ErrComponentNotRunning)
}

func TestMemoryMetrics_Instruments(t *testing.T) {
	mgr := newTestMetrics(t, &types.MetricsConfig{Enabled: true, Type: "memory"})

	counter := mgr.Counter("mutations_applied_total", map[string]string{"result": "success"})
	counter.Inc()
	counter.Add(2.5)
	assert.InDelta(t, 3.5, counter.Get(), 0.0001)

	gauge := mgr.Gauge("queue_depth", nil)
	gauge.Set(10)
	gauge.Inc()
	gauge.Dec()
	gauge.Add(5)
	gauge.Sub(2)
	assert.InDelta(t, 13, gauge.Get(), 0.0001)

	histogram := mgr.Histogram("pass_duration_seconds", []float64{0.01, 1.0}, nil)
	histogram.Observe(0.005)
	histogram.Observe(0.5)
	assert.Equal(t, uint64(2), histogram.GetCount())
	assert.InDelta(t, 0.505, histogram.GetSum(), 0.001)

	summary := mgr.Summary("payload_bytes", map[float64]float64{0.5: 0.05}, nil)
	summary.Observe(128)
	summary.Observe(256)
	assert.Equal(t, uint64(2), summary.GetCount())
	assert.InDelta(t, 384, summary.GetSum(), 0.01)
}

func TestMemoryMetrics_InstrumentsAreShared(t *testing.T) {
	mgr := newTestMetrics(t, &types.MetricsConfig{Enabled: true, Type: "memory"})

	first := mgr.Counter("shared_total", map[string]string{"side": "a"})
	second := mgr.Counter("shared_total", map[string]string{"side": "a"})
	other := mgr.Counter("shared_total", map[string]string{"side": "b"})

	first.Inc()
	second.Inc()
	other.Inc()

	assert.InDelta(t, 2, first.Get(), 0.0001)
	assert.InDelta(t, 2, second.Get(), 0.0001)
	assert.InDelta(t, 1, other.Get(), 0.0001)
}

func TestMemoryMetrics_GetMetricsJSON(t *testing.T) {
	mgr := newTestMetrics(t, &types.MetricsConfig{Enabled: true, Type: "memory"})

	mgr.Counter("snapshot_total", map[string]string{"kind": "note"}).Add(7)
	mgr.Gauge("snapshot_depth", nil).Set(3)

	data, err := mgr.GetMetrics()
	require.NoError(t, err)

	var values []types.MetricValue
	require.NoError(t, utils.Unmarshal(data, &values))

	byName := make(map[string]types.MetricValue, len(values))
	for _, v := range values {
		byName[v.Name] = v
	}

	counter, ok := byName["snapshot_total"]
	require.True(t, ok)
	assert.Equal(t, "counter", counter.Type)
	assert.InDelta(t, 7, counter.Value, 0.0001)
	assert.Equal(t, "note", counter.Labels["kind"])

	gauge, ok := byName["snapshot_depth"]
	require.True(t, ok)
	assert.Equal(t, "gauge", gauge.Type)
	assert.InDelta(t, 3, gauge.Value, 0.0001)
}

func TestMemoryMetrics_GetStats(t *testing.T) {
	mgr := newTestMetrics(t, &types.MetricsConfig{Enabled: true, Type: "memory"})

	mgr.Counter("stats_a_total", nil)
	mgr.Counter("stats_b_total", nil)
	mgr.Gauge("stats_depth", nil)
	mgr.Histogram("stats_duration_seconds", []float64{0.1}, nil)

	_, err := mgr.GetMetrics()
	require.NoError(t, err)

	data, err := mgr.GetStats()
	require.NoError(t, err)

	var stats types.MetricsStats
	require.NoError(t, utils.Unmarshal(data, &stats))

	assert.Equal(t, 4, stats.TotalMetrics)
	assert.Equal(t, 2, stats.CounterMetrics)
	assert.Equal(t, 1, stats.GaugeMetrics)
	assert.Equal(t, 1, stats.HistogramMetrics)
	assert.Equal(t, uint64(1), stats.Collections)
	assert.WithinDuration(t, time.Now(), stats.LastUpdate, time.Minute)
}

func TestPrometheusMetrics_InstrumentRoundTrip(t *testing.T) {
	mgr := newTestMetrics(t, &types.MetricsConfig{Enabled: true, Type: "prometheus"})

	counter := mgr.Counter("deliveries_total", map[string]string{"result": "success"})
	counter.Inc()
	counter.Add(4)
	assert.InDelta(t, 5, counter.Get(), 0.0001)

	gauge := mgr.Gauge("inflight", nil)
	gauge.Set(9)
	gauge.Dec()
	assert.InDelta(t, 8, gauge.Get(), 0.0001)

	histogram := mgr.Histogram("send_duration_seconds", []float64{0.01, 1.0}, nil)
	histogram.Observe(0.005)
	histogram.Observe(0.5)
	assert.Equal(t, uint64(2), histogram.GetCount())
	assert.InDelta(t, 0.505, histogram.GetSum(), 0.0001)

	buckets := histogram.(*PrometheusHistogram).GetBuckets()
	require.NotNil(t, buckets)
	assert.Equal(t, uint64(1), buckets[0.01])
	assert.Equal(t, uint64(2), buckets[1.0])

	summary := mgr.Summary("batch_size", map[float64]float64{0.5: 0.05}, nil)
	for i := 0; i < 5; i++ {
		summary.Observe(0.2)
	}
	assert.Equal(t, uint64(5), summary.GetCount())

	quantiles := summary.(*PrometheusSummary).GetQuantiles()
	require.NotNil(t, quantiles)
	assert.InDelta(t, 0.2, quantiles[0.5], 0.05)
}

func TestPrometheusMetrics_TextExposition(t *testing.T) {
	mgr := newTestMetrics(t, &types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Labels:  map[string]string{"service": "unit"},
	})

	mgr.Counter("engine_ops_total", map[string]string{"operation": "enqueue"}).Inc()

	data, err := mgr.GetMetrics()
	require.NoError(t, err)

	exposition := string(data)
	assert.Contains(t, exposition, "# TYPE sai_sync_engine_ops_total counter")
	assert.Contains(t, exposition, `operation="enqueue"`)
	assert.Contains(t, exposition, `service="unit"`)
}

func TestPrometheusMetrics_PrefixOverride(t *testing.T) {
	mgr := newTestMetrics(t, &types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Prefix:  "notesapp",
	})

	mgr.Gauge("cache_entries", nil).Set(12)

	data, err := mgr.GetMetrics()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "notesapp_cache_entries 12"))
}

func TestManager_SystemCollection(t *testing.T) {
	mgr := newTestMetrics(t, &types.MetricsConfig{
		Enabled:    true,
		Type:       "memory",
		Collectors: types.MetricsCollectorConfig{System: true},
	})

	data, err := mgr.GetMetrics()
	require.NoError(t, err)

	var values []types.MetricValue
	require.NoError(t, utils.Unmarshal(data, &values))

	// The collector ran once inline during Start.
	var goroutines float64
	for _, v := range values {
		if v.Name == "system_goroutines_count" {
			goroutines = v.Value
		}
	}
	assert.Greater(t, goroutines, float64(0))
}
