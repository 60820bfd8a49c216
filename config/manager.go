package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/saiset-co/autoglean/types"
)

const defaultLoadTimeout = 30 * time.Second

// Manager holds the effective configuration of one process: the file at
// path over Defaults and the environment. Reload swaps it atomically.
type Manager struct {
	path        string
	loader      *Loader
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	loadTimeout time.Duration
}

func NewManager(ctx context.Context, path string) (*Manager, error) {
	m := &Manager{
		path:        path,
		loader:      NewLoader(),
		loadTimeout: defaultLoadTimeout,
	}

	if err := m.Reload(ctx); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return m, nil
}

// NewStaticManager serves an already built configuration, e.g. one assembled
// in code or in tests. Reload is a no-op without a path.
func NewStaticManager(config *types.ServiceConfig) (*Manager, error) {
	m := &Manager{loader: NewLoader(), loadTimeout: defaultLoadTimeout}

	if err := m.loader.Validate(config); err != nil {
		return nil, err
	}

	if err := m.store(config); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) Reload(ctx context.Context) error {
	if m.path == "" && m.config.Load() != nil {
		return nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()

	config, err := m.loader.LoadFromFile(loadCtx, m.path)
	if err != nil {
		if loadCtx.Err() != nil && ctx.Err() == nil {
			return types.WrapError(err, "configuration load timeout")
		}
		return err
	}

	return m.store(config)
}

func (m *Manager) store(config *types.ServiceConfig) error {
	parser, err := NewParser(config)
	if err != nil {
		return err
	}

	m.parser.Store(parser)
	m.config.Store(config)

	return nil
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) GetConfig() *types.ServiceConfig {
	return m.config.Load()
}

func (m *Manager) GetValue(path string, defaultValue interface{}) interface{} {
	return m.parser.Load().GetValue(path, defaultValue)
}

func (m *Manager) GetAs(path string, target interface{}) error {
	return m.parser.Load().GetAs(path, target)
}

// Render returns the subtree at path as YAML with secrets masked.
func (m *Manager) Render(path string) ([]byte, error) {
	return m.parser.Load().Render(path)
}
