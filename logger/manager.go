package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/autoglean/types"
)

const flushTimeout = 5 * time.Second

var (
	creatorsMu sync.RWMutex
	creators   = make(map[string]types.LoggerCreator)
)

// RegisterLogger makes a custom logger available as logger.type = name.
func RegisterLogger(name string, creator types.LoggerCreator) {
	creatorsMu.Lock()
	defer creatorsMu.Unlock()

	creators[name] = creator
}

// Manager owns the process logger. Stop flushes buffered entries.
type Manager struct {
	types.Logger
	running atomic.Bool
}

func NewManager(config *types.LoggerConfig) (*Manager, error) {
	if config == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	logger, err := createLogger(config)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	return &Manager{Logger: logger}, nil
}

func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}

	syncer, ok := m.Logger.(interface{ Sync() error })
	if !ok {
		return nil
	}

	done := make(chan struct{})
	go func() {
		// Sync fails on console outputs; ignored.
		_ = syncer.Sync()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(flushTimeout):
		return types.NewErrorf("logger flush timeout after %s", flushTimeout)
	}
}

func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

func createLogger(config *types.LoggerConfig) (types.Logger, error) {
	if config.Type == "" || config.Type == "default" {
		return NewDefaultLogger(config)
	}

	creatorsMu.RLock()
	creator, ok := creators[config.Type]
	creatorsMu.RUnlock()

	if !ok {
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", config.Type)
	}

	return creator(config)
}
