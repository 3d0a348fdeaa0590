package metrics

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

const defaultNamespace = "sai_sync"

type PrometheusConfig struct {
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// PrometheusMetrics keeps one vec per metric name; instruments returned to
// callers bind a concrete label set onto the shared vec. All metrics live in
// an own registry, so GetMetrics never picks up another library's collectors.
type PrometheusMetrics struct {
	ctx        context.Context
	logger     types.Logger
	namespace  string
	subsystem  string
	labels     prometheus.Labels
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	summaries  map[string]*prometheus.SummaryVec
	system     *SystemCollector
	mu         sync.RWMutex
	running    int32
}

func NewPrometheusMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	promConfig := &PrometheusConfig{}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, promConfig)
		if err != nil {
			return nil, types.Errorf(types.ErrMetricsConfigInvalid, "prometheus: %v", err)
		}
	}

	namespace := config.Prefix
	if namespace == "" {
		namespace = defaultNamespace
	}

	registry := prometheus.NewRegistry()
	if config.Collectors.Runtime {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	metrics := &PrometheusMetrics{
		ctx:        ctx,
		logger:     logger,
		namespace:  namespace,
		subsystem:  promConfig.Subsystem,
		labels:     prometheus.Labels(config.Labels),
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		summaries:  make(map[string]*prometheus.SummaryVec),
	}

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", namespace),
		zap.Bool("runtime_collectors", config.Collectors.Runtime))

	return metrics, nil
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	p.logger.Info("Prometheus metrics started")
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrComponentNotRunning
	}

	if err := p.StopSystemCollection(); err != nil {
		p.logger.Warn("Failed to stop system collection", zap.Error(err))
	}

	p.logger.Info("Prometheus metrics stopped")
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if counter, exists := p.counters[name]; exists {
		return &PrometheusCounter{logger: p.logger, counter: counter, labels: labels}
	}

	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.namespace,
			Subsystem:   p.subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Counter metric %s", name),
			ConstLabels: p.labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(counter)
	p.counters[name] = counter

	return &PrometheusCounter{logger: p.logger, counter: counter, labels: labels}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gauge, exists := p.gauges[name]; exists {
		return &PrometheusGauge{logger: p.logger, gauge: gauge, labels: labels}
	}

	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   p.namespace,
			Subsystem:   p.subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Gauge metric %s", name),
			ConstLabels: p.labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(gauge)
	p.gauges[name] = gauge

	return &PrometheusGauge{logger: p.logger, gauge: gauge, labels: labels}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	if histogram, exists := p.histograms[name]; exists {
		return &PrometheusHistogram{histogram: histogram, labels: labels}
	}

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.namespace,
			Subsystem:   p.subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Histogram metric %s", name),
			Buckets:     buckets,
			ConstLabels: p.labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(histogram)
	p.histograms[name] = histogram

	return &PrometheusHistogram{histogram: histogram, labels: labels}
}

func (p *PrometheusMetrics) Summary(name string, objectives map[float64]float64, labels map[string]string) types.Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	if summary, exists := p.summaries[name]; exists {
		return &PrometheusSummary{summary: summary, labels: labels}
	}

	summary := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:   p.namespace,
			Subsystem:   p.subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Summary metric %s", name),
			Objectives:  objectives,
			ConstLabels: p.labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(summary)
	p.summaries[name] = summary

	return &PrometheusSummary{summary: summary, labels: labels}
}

func (p *PrometheusMetrics) RegisterSystemMetrics() error {
	p.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_inuse"})
	p.Gauge("system_goroutines_count", nil)
	p.Gauge("system_heap_objects_count", nil)
	p.Gauge("system_uptime_seconds", nil)
	p.Gauge("system_gc_cycles_total", nil)
	p.Gauge("system_last_gc_timestamp", nil)
	p.Histogram("system_gc_duration_seconds", []float64{0.001, 0.01, 0.1, 1.0}, nil)

	p.logger.Info("Prometheus system metrics registered")
	return nil
}

func (p *PrometheusMetrics) StartSystemCollection() error {
	p.mu.Lock()
	if p.system == nil {
		p.system = NewSystemCollector(p.ctx, p.logger, p)
	}
	collector := p.system
	p.mu.Unlock()

	return collector.Start()
}

func (p *PrometheusMetrics) StopSystemCollection() error {
	p.mu.RLock()
	collector := p.system
	p.mu.RUnlock()

	if collector != nil && collector.IsRunning() {
		return collector.Stop()
	}
	return nil
}

// GetMetrics renders the registry in the Prometheus text exposition format,
// ready to serve on a scrape endpoint.
func (p *PrometheusMetrics) GetMetrics() ([]byte, error) {
	gathering, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range gathering {
		if err := encoder.Encode(family); err != nil {
			return nil, types.WrapError(err, "failed to encode metric family")
		}
	}

	return buf.Bytes(), nil
}

func (p *PrometheusMetrics) GetStats() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := types.MetricsStats{
		TotalMetrics:     len(p.counters) + len(p.gauges) + len(p.histograms) + len(p.summaries),
		CounterMetrics:   len(p.counters),
		GaugeMetrics:     len(p.gauges),
		HistogramMetrics: len(p.histograms),
		SummaryMetrics:   len(p.summaries),
		LastUpdate:       time.Now(),
	}

	return utils.Marshal(stats)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	return names
}

type PrometheusCounter struct {
	logger  types.Logger
	counter *prometheus.CounterVec
	labels  map[string]string
}

func (c *PrometheusCounter) Inc() {
	c.counter.With(c.labels).Inc()
}

func (c *PrometheusCounter) Add(value float64) {
	c.counter.With(c.labels).Add(value)
}

func (c *PrometheusCounter) Get() float64 {
	metric := &dto.Metric{}
	err := c.counter.With(c.labels).Write(metric)
	if err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return metric.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  *prometheus.GaugeVec
	labels map[string]string
}

func (g *PrometheusGauge) Set(value float64) {
	g.gauge.With(g.labels).Set(value)
}

func (g *PrometheusGauge) Inc() {
	g.gauge.With(g.labels).Inc()
}

func (g *PrometheusGauge) Dec() {
	g.gauge.With(g.labels).Dec()
}

func (g *PrometheusGauge) Add(value float64) {
	g.gauge.With(g.labels).Add(value)
}

func (g *PrometheusGauge) Sub(value float64) {
	g.gauge.With(g.labels).Sub(value)
}

func (g *PrometheusGauge) Get() float64 {
	metric := &dto.Metric{}
	err := g.gauge.With(g.labels).Write(metric)
	if err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
	}
	return metric.GetGauge().GetValue()
}

type PrometheusHistogram struct {
	histogram *prometheus.HistogramVec
	labels    map[string]string
}

func (h *PrometheusHistogram) Observe(value float64) {
	h.histogram.With(h.labels).Observe(value)
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.histogram.With(h.labels).Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) GetCount() uint64 {
	if histogram := h.read(); histogram != nil {
		return histogram.GetSampleCount()
	}
	return 0
}

func (h *PrometheusHistogram) GetSum() float64 {
	if histogram := h.read(); histogram != nil {
		return histogram.GetSampleSum()
	}
	return 0
}

func (h *PrometheusHistogram) GetBuckets() map[float64]uint64 {
	histogram := h.read()
	if histogram == nil {
		return nil
	}

	buckets := make(map[float64]uint64, len(histogram.GetBucket()))
	for _, bucket := range histogram.GetBucket() {
		buckets[bucket.GetUpperBound()] = bucket.GetCumulativeCount()
	}
	return buckets
}

func (h *PrometheusHistogram) read() *dto.Histogram {
	metric := &dto.Metric{}
	observer := h.histogram.With(h.labels)

	promMetric, ok := observer.(prometheus.Metric)
	if !ok {
		return nil
	}
	if err := promMetric.Write(metric); err != nil {
		return nil
	}
	return metric.GetHistogram()
}

type PrometheusSummary struct {
	summary *prometheus.SummaryVec
	labels  map[string]string
}

func (s *PrometheusSummary) Observe(value float64) {
	s.summary.With(s.labels).Observe(value)
}

func (s *PrometheusSummary) ObserveDuration(start time.Time) {
	s.summary.With(s.labels).Observe(time.Since(start).Seconds())
}

func (s *PrometheusSummary) GetCount() uint64 {
	if summary := s.read(); summary != nil {
		return summary.GetSampleCount()
	}
	return 0
}

func (s *PrometheusSummary) GetSum() float64 {
	if summary := s.read(); summary != nil {
		return summary.GetSampleSum()
	}
	return 0
}

func (s *PrometheusSummary) GetQuantiles() map[float64]float64 {
	summary := s.read()
	if summary == nil {
		return nil
	}

	quantiles := make(map[float64]float64, len(summary.GetQuantile()))
	for _, quantile := range summary.GetQuantile() {
		quantiles[quantile.GetQuantile()] = quantile.GetValue()
	}
	return quantiles
}

func (s *PrometheusSummary) read() *dto.Summary {
	metric := &dto.Metric{}
	observer := s.summary.With(s.labels)

	promMetric, ok := observer.(prometheus.Metric)
	if !ok {
		return nil
	}
	if err := promMetric.Write(metric); err != nil {
		return nil
	}
	return metric.GetSummary()
}
