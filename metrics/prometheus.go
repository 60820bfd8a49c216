package metrics

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

// PrometheusConfig is the metrics.config block of the prometheus backend.
type PrometheusConfig struct {
	Namespace       string `yaml:"namespace" json:"namespace"`
	Subsystem       string `yaml:"subsystem" json:"subsystem"`
	EnableGoMetrics bool   `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

// PrometheusMetrics keeps every instrument in a private registry. Vectors are
// keyed by metric name; the label names of the first request win.
type PrometheusMetrics struct {
	logger      types.Logger
	config      PrometheusConfig
	constLabels prometheus.Labels
	registry    *prometheus.Registry

	mu         sync.Mutex
	collectors map[string]prometheus.Collector

	running atomic.Bool
}

func NewPrometheusMetrics(_ context.Context, logger types.Logger, cfg *types.MetricsConfig) (*PrometheusMetrics, error) {
	promConfig := PrometheusConfig{Namespace: "autoglean"}
	if cfg.Config != nil {
		if err := utils.UnmarshalConfig(cfg.Config, &promConfig); err != nil {
			return nil, types.WrapError(err, "prometheus config")
		}
	}

	registry := prometheus.NewRegistry()
	if promConfig.EnableGoMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	logger.Debug("Prometheus registry created",
		zap.String("namespace", promConfig.Namespace),
		zap.String("subsystem", promConfig.Subsystem),
		zap.Bool("go_metrics", promConfig.EnableGoMetrics))

	return &PrometheusMetrics{
		logger:      logger,
		config:      promConfig,
		constLabels: prometheus.Labels(cfg.Labels),
		registry:    registry,
		collectors:  make(map[string]prometheus.Collector),
	}, nil
}

func (p *PrometheusMetrics) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return p.running.Load()
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	vec, ok := p.collector(name, func() prometheus.Collector {
		return prometheus.NewCounterVec(prometheus.CounterOpts(p.opts(name, "Counter")), labelNames(labels))
	}).(*prometheus.CounterVec)
	if !ok {
		return emptyCounter{}
	}

	return promCounter{bind[prometheus.Counter](p.logger, name, vec, labels)}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	vec, ok := p.collector(name, func() prometheus.Collector {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(p.opts(name, "Gauge")), labelNames(labels))
	}).(*prometheus.GaugeVec)
	if !ok {
		return emptyGauge{}
	}

	return promGauge{bind[prometheus.Gauge](p.logger, name, vec, labels)}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	vec, ok := p.collector(name, func() prometheus.Collector {
		opts := p.opts(name, "Histogram")
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        opts.Name,
			Help:        opts.Help,
			ConstLabels: opts.ConstLabels,
			Buckets:     buckets,
		}, labelNames(labels))
	}).(*prometheus.HistogramVec)
	if !ok {
		return emptyHistogram{}
	}

	return promHistogram{bind[prometheus.Observer](p.logger, name, vec, labels)}
}

// GetMetrics returns a JSON snapshot of every gathered sample.
func (p *PrometheusMetrics) GetMetrics() ([]byte, error) {
	families, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	return utils.Marshal(flatten(families, time.Now()))
}

// GetText renders the registry in the Prometheus text exposition format.
func (p *PrometheusMetrics) GetText() ([]byte, error) {
	families, err := p.registry.Gather()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, types.WrapError(err, "encode "+mf.GetName())
		}
	}

	return buf.Bytes(), nil
}

func (p *PrometheusMetrics) opts(name, kind string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        kind + " " + name,
		ConstLabels: p.constLabels,
	}
}

// collector returns the vector registered under name, creating it with build
// on first use. It returns nil when registration fails.
func (p *PrometheusMetrics) collector(name string, build func() prometheus.Collector) prometheus.Collector {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.collectors[name]; ok {
		return c
	}

	c := build()
	if err := p.registry.Register(c); err != nil {
		p.logger.Error("Failed to register metric", zap.String("name", name), zap.Error(err))
		return nil
	}
	p.collectors[name] = c

	return c
}

func flatten(families []*dto.MetricFamily, at time.Time) []types.MetricValue {
	values := make([]types.MetricValue, 0, len(families))

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			value := types.MetricValue{
				Name:      mf.GetName(),
				Kind:      mf.GetType().String(),
				Timestamp: at,
			}

			if pairs := m.GetLabel(); len(pairs) > 0 {
				value.Labels = make(map[string]string, len(pairs))
				for _, pair := range pairs {
					value.Labels[pair.GetName()] = pair.GetValue()
				}
			}

			switch {
			case m.Counter != nil:
				value.Value = m.Counter.GetValue()
			case m.Gauge != nil:
				value.Value = m.Gauge.GetValue()
			case m.Histogram != nil:
				value.Value = m.Histogram.GetSampleSum()
				value.Count = m.Histogram.GetSampleCount()
			case m.Summary != nil:
				value.Value = m.Summary.GetSampleSum()
				value.Count = m.Summary.GetSampleCount()
			}

			values = append(values, value)
		}
	}

	return values
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	return names
}

type labeledVec[M any] interface {
	GetMetricWith(prometheus.Labels) (M, error)
}

// bound is one child of a vector, resolved on every call so a label mismatch
// is logged instead of panicking.
type bound[M any] struct {
	logger types.Logger
	name   string
	vec    labeledVec[M]
	labels prometheus.Labels
}

func bind[M any](logger types.Logger, name string, vec labeledVec[M], labels map[string]string) bound[M] {
	return bound[M]{logger: logger, name: name, vec: vec, labels: labels}
}

func (b bound[M]) child() (M, bool) {
	m, err := b.vec.GetMetricWith(b.labels)
	if err != nil {
		b.logger.Warn("Metric label mismatch", zap.String("name", b.name), zap.Error(err))
		return m, false
	}
	return m, true
}

func read(m prometheus.Metric) *dto.Metric {
	out := &dto.Metric{}
	_ = m.Write(out)
	return out
}

type promCounter struct{ bound[prometheus.Counter] }

func (c promCounter) Inc() {
	if m, ok := c.child(); ok {
		m.Inc()
	}
}

func (c promCounter) Add(value float64) {
	if m, ok := c.child(); ok {
		m.Add(value)
	}
}

func (c promCounter) Get() float64 {
	m, ok := c.child()
	if !ok {
		return 0
	}
	return read(m).GetCounter().GetValue()
}

type promGauge struct{ bound[prometheus.Gauge] }

func (g promGauge) Set(value float64) {
	if m, ok := g.child(); ok {
		m.Set(value)
	}
}

func (g promGauge) Inc() {
	if m, ok := g.child(); ok {
		m.Inc()
	}
}

func (g promGauge) Dec() {
	if m, ok := g.child(); ok {
		m.Dec()
	}
}

func (g promGauge) Add(value float64) {
	if m, ok := g.child(); ok {
		m.Add(value)
	}
}

func (g promGauge) Get() float64 {
	m, ok := g.child()
	if !ok {
		return 0
	}
	return read(m).GetGauge().GetValue()
}

type promHistogram struct{ bound[prometheus.Observer] }

func (h promHistogram) Observe(value float64) {
	if m, ok := h.child(); ok {
		m.Observe(value)
	}
}

func (h promHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
