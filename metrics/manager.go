package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
)

// Manager fronts the configured metrics backend. While it is stopped every
// instrument it hands out discards observations.
type Manager struct {
	logger  types.Logger
	kind    string
	backend types.MetricsManager
	running atomic.Bool
}

// TextExporter is implemented by backends able to render the Prometheus text
// exposition format.
type TextExporter interface {
	GetText() ([]byte, error)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]types.MetricsManagerCreator)
)

// RegisterMetricsManager makes a custom backend selectable through
// metrics.type.
func RegisterMetricsManager(kind string, creator types.MetricsManagerCreator) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	backends[kind] = creator
}

// NewManager builds the configured backend. A nil or disabled config yields a
// manager that records nothing.
func NewManager(ctx context.Context, cfg *types.MetricsConfig, logger types.Logger) (*Manager, error) {
	if cfg == nil || !cfg.Enabled {
		return &Manager{logger: logger, kind: "noop", backend: NewNoopMetrics()}, nil
	}

	kind := cfg.Type
	if kind == "" {
		kind = "prometheus"
	}

	backend, err := newBackend(ctx, kind, cfg, logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	logger.Debug("Metrics backend initialized", zap.String("type", kind))

	return &Manager{logger: logger, kind: kind, backend: backend}, nil
}

func newBackend(ctx context.Context, kind string, cfg *types.MetricsConfig, logger types.Logger) (types.MetricsManager, error) {
	switch kind {
	case "prometheus":
		return NewPrometheusMetrics(ctx, logger, cfg)
	case "noop":
		return NewNoopMetrics(), nil
	}

	backendsMu.RLock()
	creator, ok := backends[kind]
	backendsMu.RUnlock()

	if !ok {
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", kind)
	}

	return creator(cfg, logger)
}

// Type reports the selected backend.
func (m *Manager) Type() string {
	return m.kind
}

func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}

	if err := m.backend.Start(); err != nil {
		m.running.Store(false)
		return types.WrapError(err, "failed to start metrics backend")
	}

	return nil
}

func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}

	if err := m.backend.Stop(); err != nil {
		m.logger.Error("Metrics backend stop failed", zap.String("type", m.kind), zap.Error(err))
		return types.WrapError(err, "failed to stop metrics backend")
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

func (m *Manager) Counter(name string, labels map[string]string) types.Counter {
	if !m.IsRunning() {
		return emptyCounter{}
	}
	return m.backend.Counter(name, labels)
}

func (m *Manager) Gauge(name string, labels map[string]string) types.Gauge {
	if !m.IsRunning() {
		return emptyGauge{}
	}
	return m.backend.Gauge(name, labels)
}

func (m *Manager) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if !m.IsRunning() {
		return emptyHistogram{}
	}
	return m.backend.Histogram(name, buckets, labels)
}

func (m *Manager) GetMetrics() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrServerNotRunning
	}
	return m.backend.GetMetrics()
}

func (m *Manager) GetText() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	exporter, ok := m.backend.(TextExporter)
	if !ok {
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "%s has no text exposition", m.kind)
	}

	return exporter.GetText()
}
