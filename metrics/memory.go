package metrics

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

type MemoryConfig struct {
	MaxMetrics      int           `yaml:"max_metrics" json:"max_metrics"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// MemoryMetrics holds every instrument in process memory. GetMetrics and
// GetStats serialize to JSON, which keeps the backend useful for tests and
// for embedding without a scrape pipeline.
type MemoryMetrics struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      types.Logger
	config      *MemoryConfig
	counters    map[string]*MemoryCounter
	gauges      map[string]*MemoryGauge
	histograms  map[string]*MemoryHistogram
	summaries   map[string]*MemorySummary
	system      atomic.Pointer[SystemCollector]
	state       atomic.Value
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	collections uint64
	mu          sync.RWMutex
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	memConfig := &MemoryConfig{
		MaxMetrics:      10000,
		CleanupInterval: time.Hour,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.Errorf(types.ErrMetricsConfigInvalid, "memory: %v", err)
		}
	}

	memoryCtx, cancel := context.WithCancel(ctx)

	metrics := &MemoryMetrics{
		ctx:         memoryCtx,
		cancel:      cancel,
		logger:      logger,
		config:      memConfig,
		counters:    make(map[string]*MemoryCounter),
		gauges:      make(map[string]*MemoryGauge),
		histograms:  make(map[string]*MemoryHistogram),
		summaries:   make(map[string]*MemorySummary),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	metrics.state.Store(MemoryStateStopped)

	return metrics, nil
}

func (m *MemoryMetrics) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	go m.cleanupRoutine()

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
		m.cancel()
	}()

	if err := m.StopSystemCollection(); err != nil {
		m.logger.Warn("Failed to stop system collection", zap.Error(err))
	}

	select {
	case <-m.stopCleanup:
	default:
		close(m.stopCleanup)
	}

	select {
	case <-m.cleanupDone:
	case <-time.After(5 * time.Second):
		m.logger.Warn("Memory metrics cleanup routine did not stop in time")
	}

	m.reset()

	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryMetrics) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryMetrics) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryMetrics) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryMetrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters = make(map[string]*MemoryCounter)
	m.gauges = make(map[string]*MemoryGauge)
	m.histograms = make(map[string]*MemoryHistogram)
	m.summaries = make(map[string]*MemorySummary)
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	if !m.usable() {
		return &MemoryCounter{}
	}

	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &MemoryCounter{name: name, labels: labels}
	m.counters[key] = counter

	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	if !m.usable() {
		return &MemoryGauge{}
	}

	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &MemoryGauge{name: name, labels: labels}
	m.gauges[key] = gauge

	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if !m.usable() {
		return &MemoryHistogram{}
	}

	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &MemoryHistogram{
		name:    name,
		labels:  labels,
		buckets: append([]float64(nil), buckets...),
		counts:  make([]uint64, len(buckets)+1),
	}
	m.histograms[key] = histogram

	return histogram
}

func (m *MemoryMetrics) Summary(name string, objectives map[float64]float64, labels map[string]string) types.Summary {
	if !m.usable() {
		return &MemorySummary{}
	}

	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if summary, exists := m.summaries[key]; exists {
		return summary
	}

	summary := &MemorySummary{
		name:       name,
		labels:     labels,
		objectives: objectives,
	}
	m.summaries[key] = summary

	return summary
}

// usable reports whether instruments may be created. Starting counts, so the
// wrapper can pre-register system metrics during its own Start.
func (m *MemoryMetrics) usable() bool {
	state := m.getState()
	return state == MemoryStateRunning || state == MemoryStateStarting
}

func (m *MemoryMetrics) RegisterSystemMetrics() error {
	if !m.usable() {
		return types.ErrComponentNotRunning
	}

	m.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_inuse"})
	m.Gauge("system_goroutines_count", nil)
	m.Gauge("system_heap_objects_count", nil)
	m.Gauge("system_uptime_seconds", nil)
	m.Gauge("system_gc_cycles_total", nil)
	m.Gauge("system_last_gc_timestamp", nil)
	m.Histogram("system_gc_duration_seconds", []float64{0.001, 0.01, 0.1, 1.0}, nil)

	m.logger.Info("System metrics registered")
	return nil
}

func (m *MemoryMetrics) StartSystemCollection() error {
	if !m.usable() {
		return types.ErrComponentNotRunning
	}

	if m.system.Load() == nil {
		m.system.CompareAndSwap(nil, NewSystemCollector(m.ctx, m.logger, m))
	}

	return m.system.Load().Start()
}

func (m *MemoryMetrics) StopSystemCollection() error {
	if collector := m.system.Load(); collector != nil && collector.IsRunning() {
		return collector.Stop()
	}
	return nil
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrComponentNotRunning
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	metrics := make([]types.MetricValue, 0,
		len(m.counters)+len(m.gauges)+len(m.histograms)+len(m.summaries))

	for _, counter := range m.counters {
		metrics = append(metrics, types.MetricValue{
			Name:      counter.name,
			Type:      "counter",
			Value:     counter.Get(),
			Labels:    counter.labels,
			Timestamp: now,
		})
	}

	for _, gauge := range m.gauges {
		metrics = append(metrics, types.MetricValue{
			Name:      gauge.name,
			Type:      "gauge",
			Value:     gauge.Get(),
			Labels:    gauge.labels,
			Timestamp: now,
		})
	}

	for _, histogram := range m.histograms {
		metrics = append(metrics, types.MetricValue{
			Name:      histogram.name,
			Type:      "histogram",
			Value:     histogram.GetSum(),
			Labels:    histogram.labels,
			Timestamp: now,
		})
	}

	for _, summary := range m.summaries {
		metrics = append(metrics, types.MetricValue{
			Name:      summary.name,
			Type:      "summary",
			Value:     summary.GetSum(),
			Labels:    summary.labels,
			Timestamp: now,
		})
	}

	atomic.AddUint64(&m.collections, 1)
	return utils.Marshal(metrics)
}

func (m *MemoryMetrics) GetStats() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrComponentNotRunning
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.MetricsStats{
		TotalMetrics:     len(m.counters) + len(m.gauges) + len(m.histograms) + len(m.summaries),
		CounterMetrics:   len(m.counters),
		GaugeMetrics:     len(m.gauges),
		HistogramMetrics: len(m.histograms),
		SummaryMetrics:   len(m.summaries),
		LastUpdate:       time.Now(),
		Collections:      atomic.LoadUint64(&m.collections),
	}

	return utils.Marshal(stats)
}

func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	var b strings.Builder
	b.WriteString(name)
	for k, v := range labels {
		b.WriteByte('_')
		b.WriteString(k)
		b.WriteByte('_')
		b.WriteString(v)
	}
	return b.String()
}

func (m *MemoryMetrics) cleanupRoutine() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.ctx.Done():
			return
		case <-m.stopCleanup:
			return
		}
	}
}

// performCleanup drops counters once the instrument count exceeds the cap.
// Counters are the usual unbounded-cardinality offender; gauges and
// histograms come from a fixed set of callers.
func (m *MemoryMetrics) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalMetrics := len(m.counters) + len(m.gauges) + len(m.histograms) + len(m.summaries)
	if totalMetrics <= m.config.MaxMetrics {
		return
	}

	toRemove := totalMetrics - m.config.MaxMetrics
	removed := 0

	for key := range m.counters {
		if removed >= toRemove {
			break
		}
		delete(m.counters, key)
		removed++
	}

	m.logger.Debug("Memory metrics cleanup completed", zap.Int("removed", removed))
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  uint64
}

func (c *MemoryCounter) Inc() {
	c.Add(1)
}

func (c *MemoryCounter) Add(value float64) {
	for {
		old := atomic.LoadUint64(&c.value)
		updated := math.Float64bits(math.Float64frombits(old) + value)
		if atomic.CompareAndSwapUint64(&c.value, old, updated) {
			return
		}
	}
}

func (c *MemoryCounter) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.value))
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  uint64
}

func (g *MemoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.value, math.Float64bits(value))
}

func (g *MemoryGauge) Inc() {
	g.Add(1)
}

func (g *MemoryGauge) Dec() {
	g.Add(-1)
}

func (g *MemoryGauge) Add(value float64) {
	for {
		old := atomic.LoadUint64(&g.value)
		updated := math.Float64bits(math.Float64frombits(old) + value)
		if atomic.CompareAndSwapUint64(&g.value, old, updated) {
			return
		}
	}
}

func (g *MemoryGauge) Sub(value float64) {
	g.Add(-value)
}

func (g *MemoryGauge) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.value))
}

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     uint64
	count   uint64
}

// Observe records value in micro-units so the running sum stays a single
// atomic word.
func (h *MemoryHistogram) Observe(value float64) {
	if h == nil || len(h.counts) == 0 {
		return
	}

	atomic.AddUint64(&h.count, 1)
	atomic.AddUint64(&h.sum, uint64(value*1e6))

	bucketIndex := len(h.buckets)
	for i, bucket := range h.buckets {
		if value <= bucket {
			bucketIndex = i
			break
		}
	}

	atomic.AddUint64(&h.counts[bucketIndex], 1)
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return float64(atomic.LoadUint64(&h.sum)) / 1e6
}

type MemorySummary struct {
	name       string
	labels     map[string]string
	objectives map[float64]float64
	values     []float64
	sum        uint64
	count      uint64
	mu         sync.Mutex
}

func (s *MemorySummary) Observe(value float64) {
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, uint64(value*1e6))

	s.mu.Lock()
	s.values = append(s.values, value)
	if len(s.values) > 1000 {
		s.values = s.values[1:]
	}
	s.mu.Unlock()
}

func (s *MemorySummary) ObserveDuration(start time.Time) {
	s.Observe(time.Since(start).Seconds())
}

func (s *MemorySummary) GetCount() uint64 {
	return atomic.LoadUint64(&s.count)
}

func (s *MemorySummary) GetSum() float64 {
	return float64(atomic.LoadUint64(&s.sum)) / 1e6
}
