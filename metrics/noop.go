package metrics

import (
	"sync/atomic"
	"time"

	"github.com/saiset-co/autoglean/types"
)

// NoopMetrics discards every observation.
type NoopMetrics struct {
	running atomic.Bool
}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) Start() error {
	n.running.Store(true)
	return nil
}

func (n *NoopMetrics) Stop() error {
	n.running.Store(false)
	return nil
}

func (n *NoopMetrics) IsRunning() bool {
	return n.running.Load()
}

func (n *NoopMetrics) Counter(string, map[string]string) types.Counter {
	return emptyCounter{}
}

func (n *NoopMetrics) Gauge(string, map[string]string) types.Gauge {
	return emptyGauge{}
}

func (n *NoopMetrics) Histogram(string, []float64, map[string]string) types.Histogram {
	return emptyHistogram{}
}

func (n *NoopMetrics) GetMetrics() ([]byte, error) {
	return []byte("[]"), nil
}

type emptyCounter struct{}

func (emptyCounter) Inc()         {}
func (emptyCounter) Add(float64)  {}
func (emptyCounter) Get() float64 { return 0 }

type emptyGauge struct{}

func (emptyGauge) Set(float64)  {}
func (emptyGauge) Inc()         {}
func (emptyGauge) Dec()         {}
func (emptyGauge) Add(float64)  {}
func (emptyGauge) Get() float64 { return 0 }

type emptyHistogram struct{}

func (emptyHistogram) Observe(float64)           {}
func (emptyHistogram) ObserveDuration(time.Time) {}
