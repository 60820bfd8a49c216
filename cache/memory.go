package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

type StorageState int32

const (
	StorageStateStopped StorageState = iota
	StorageStateStarting
	StorageStateRunning
	StorageStateStopping
)

type MemoryConfig struct {
	// MaxMemory caps the stored payload bytes; a Put beyond it fails with
	// ErrCacheQuotaExceeded. Zero disables the quota.
	MaxMemory int64 `json:"max_memory"`
}

type MemoryStorage struct {
	config *MemoryConfig
	logger types.Logger
	data   map[string][]byte
	used   int64
	mu     sync.RWMutex
	state  atomic.Value
}

func NewMemoryStorage(_ context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheStorage, error) {
	var memConfig = &MemoryConfig{}

	if config != nil && config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory cache config")
		}
	}

	storage := &MemoryStorage{
		config: memConfig,
		logger: logger,
		data:   make(map[string][]byte),
	}

	storage.state.Store(StorageStateStopped)

	return storage, nil
}

func (m *MemoryStorage) Name() string {
	return "memory"
}

func (m *MemoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.data[key]
	if !exists {
		return nil, false, nil
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (m *MemoryStorage) Put(_ context.Context, key string, data []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	newUsed := m.used - int64(len(m.data[key])) + int64(len(data))
	if m.config.MaxMemory > 0 && newUsed > m.config.MaxMemory {
		return types.Errorf(types.ErrCacheQuotaExceeded, "memory quota %d bytes", m.config.MaxMemory)
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	m.data[key] = stored
	m.used = newUsed
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if data, exists := m.data[key]; exists {
			m.used -= int64(len(data))
			delete(m.data, key)
		}
	}
	return nil
}

func (m *MemoryStorage) Scan(_ context.Context) ([]types.StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]types.StoredRecord, 0, len(m.data))
	for key, data := range m.data {
		out := make([]byte, len(data))
		copy(out, data)
		records = append(records, types.StoredRecord{Key: key, Data: out})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (m *MemoryStorage) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string][]byte)
	m.used = 0
	return nil
}

func (m *MemoryStorage) Start() error {
	if !m.transitionState(StorageStateStopped, StorageStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == StorageStateStarting {
			m.setState(StorageStateRunning)
		}
	}()

	m.logger.Debug("Memory cache storage started", zap.Int64("max_memory", m.config.MaxMemory))
	return nil
}

func (m *MemoryStorage) Stop() error {
	if !m.transitionState(StorageStateRunning, StorageStateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.setState(StorageStateStopped)

	m.mu.Lock()
	entries := len(m.data)
	m.data = make(map[string][]byte)
	m.used = 0
	m.mu.Unlock()

	m.logger.Debug("Memory cache storage stopped", zap.Int("cleared_entries", entries))
	return nil
}

func (m *MemoryStorage) IsRunning() bool {
	return m.getState() == StorageStateRunning
}

func (m *MemoryStorage) getState() StorageState {
	return m.state.Load().(StorageState)
}

func (m *MemoryStorage) setState(newState StorageState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStorage) transitionState(from, to StorageState) bool {
	return m.state.CompareAndSwap(from, to)
}
