package metrics

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-sync/types"
)

const systemCollectInterval = 10 * time.Second

// SystemCollector samples Go runtime statistics into whichever metrics
// backend owns it. One sample runs inline on Start so gauges carry values
// before the first tick.
type SystemCollector struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      types.Logger
	metrics     types.MetricsManager
	startTime   time.Time
	lastGCCount uint32
	stopChan    chan struct{}
	done        chan struct{}
	started     int32
}

func NewSystemCollector(ctx context.Context, logger types.Logger, metricsManager types.MetricsManager) *SystemCollector {
	collectorCtx, cancel := context.WithCancel(ctx)

	return &SystemCollector{
		ctx:      collectorCtx,
		cancel:   cancel,
		logger:   logger,
		metrics:  metricsManager,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (sc *SystemCollector) Start() error {
	if !atomic.CompareAndSwapInt32(&sc.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	sc.startTime = time.Now()
	sc.collect()

	go sc.collectLoop()

	sc.logger.Info("System metrics collection started")
	return nil
}

func (sc *SystemCollector) Stop() error {
	if !atomic.CompareAndSwapInt32(&sc.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	sc.cancel()

	select {
	case <-sc.stopChan:
	default:
		close(sc.stopChan)
	}

	select {
	case <-sc.done:
	case <-time.After(5 * time.Second):
		sc.logger.Warn("System metrics collection did not stop in time")
	}

	sc.logger.Info("System metrics collection stopped")
	return nil
}

func (sc *SystemCollector) IsRunning() bool {
	return atomic.LoadInt32(&sc.started) == 1
}

func (sc *SystemCollector) collectLoop() {
	defer close(sc.done)

	ticker := time.NewTicker(systemCollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.collect()
		case <-sc.stopChan:
			return
		case <-sc.ctx.Done():
			return
		}
	}
}

func (sc *SystemCollector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	sc.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_inuse"}).Set(float64(m.HeapInuse))
	sc.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_alloc"}).Set(float64(m.HeapAlloc))
	sc.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "sys"}).Set(float64(m.Sys))
	sc.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "stack_inuse"}).Set(float64(m.StackInuse))
	sc.metrics.Gauge("system_heap_objects_count", nil).Set(float64(m.HeapObjects))
	sc.metrics.Gauge("system_goroutines_count", nil).Set(float64(runtime.NumGoroutine()))
	sc.metrics.Gauge("system_uptime_seconds", nil).Set(time.Since(sc.startTime).Seconds())

	sc.collectGC(&m)
}

func (sc *SystemCollector) collectGC(m *runtime.MemStats) {
	if m.NumGC == sc.lastGCCount {
		return
	}
	sc.lastGCCount = m.NumGC

	sc.metrics.Gauge("system_gc_cycles_total", nil).Set(float64(m.NumGC))

	if m.NumGC == 0 {
		return
	}

	sc.metrics.Gauge("system_last_gc_timestamp", nil).Set(float64(m.LastGC) / 1e9)

	// PauseNs is a circular buffer keyed by cycle count.
	lastPause := m.PauseNs[(m.NumGC+255)%256]
	if lastPause > 0 {
		sc.metrics.Histogram("system_gc_duration_seconds",
			[]float64{0.001, 0.01, 0.1, 1.0}, nil).Observe(float64(lastPause) / 1e9)
	}
}
