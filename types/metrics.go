package types

import (
	"time"
)

// MetricsManager is a metrics backend. Instruments are created on first use
// and shared by name afterwards.
type MetricsManager interface {
	LifecycleManager
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	Histogram(name string, buckets []float64, labels map[string]string) Histogram
	GetMetrics() ([]byte, error)
}

type Counter interface {
	Inc()
	Add(value float64)
	Get() float64
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(value float64)
	Get() float64
}

type Histogram interface {
	Observe(value float64)
	ObserveDuration(start time.Time)
}

type MetricsManagerCreator func(config *MetricsConfig, logger Logger) (MetricsManager, error)

// MetricValue is one sample in the JSON snapshot returned by GetMetrics.
// Histograms report their sample sum.
type MetricValue struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	Value     float64           `json:"value"`
	Count     uint64            `json:"count,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
