package cache

import (
	"context"
	"sync"
	"time"

	"github.com/saiset-co/autoglean/types"
)

var (
	customStorageCreators   = make(map[string]types.CacheStorageCreator)
	customStorageCreatorsMu sync.RWMutex
)

// RegisterStorage makes a custom backend available under cache.type.
func RegisterStorage(storageName string, creator types.CacheStorageCreator) {
	customStorageCreatorsMu.Lock()
	defer customStorageCreatorsMu.Unlock()
	customStorageCreators[storageName] = creator
}

// NewStorage builds the backend named by cacheConfig.Type and wraps it with
// operation metrics.
func NewStorage(ctx context.Context, cacheConfig *types.CacheConfig, logger types.Logger, metrics types.MetricsManager) (types.CacheStorage, error) {
	storageName := cacheConfig.Type

	var impl types.CacheStorage
	var err error

	switch storageName {
	case "memory", "":
		impl, err = NewMemoryStorage(ctx, logger, cacheConfig)
	case "redis":
		impl, err = NewRedisStorage(ctx, logger, cacheConfig)
	case "clover":
		impl, err = NewCloverStorage(ctx, logger, cacheConfig)
	case "sqlite":
		impl, err = NewSQLiteStorage(ctx, logger, cacheConfig)
	default:
		customStorageCreatorsMu.RLock()
		creator, exists := customStorageCreators[storageName]
		customStorageCreatorsMu.RUnlock()

		if !exists {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", storageName)
		}
		impl, err = creator(ctx, logger, cacheConfig)
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedStorage(metrics, impl), nil
}

type instrumentedStorage struct {
	impl    types.CacheStorage
	metrics types.MetricsManager
}

func newInstrumentedStorage(metrics types.MetricsManager, impl types.CacheStorage) types.CacheStorage {
	if metrics == nil {
		return impl
	}

	return &instrumentedStorage{
		impl:    impl,
		metrics: metrics,
	}
}

func (is *instrumentedStorage) Name() string {
	return is.impl.Name()
}

func (is *instrumentedStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	data, exists, err := is.impl.Get(ctx, key)

	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case exists:
		result = "hit"
	}

	is.recordMetric("get", result, time.Since(start))
	return data, exists, err
}

func (is *instrumentedStorage) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := is.impl.Put(ctx, key, data)
	is.recordMetric("put", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStorage) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := is.impl.Delete(ctx, keys...)
	is.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStorage) Scan(ctx context.Context) ([]types.StoredRecord, error) {
	start := time.Now()
	records, err := is.impl.Scan(ctx)
	is.recordMetric("scan", resultOf(err), time.Since(start))
	return records, err
}

func (is *instrumentedStorage) Clear(ctx context.Context) error {
	start := time.Now()
	err := is.impl.Clear(ctx)
	is.recordMetric("clear", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStorage) Start() error {
	return is.impl.Start()
}

func (is *instrumentedStorage) Stop() error {
	return is.impl.Stop()
}

func (is *instrumentedStorage) IsRunning() bool {
	return is.impl.IsRunning()
}

func (is *instrumentedStorage) recordMetric(operation, result string, duration time.Duration) {
	is.metrics.Counter("cache_storage_operations_total", map[string]string{
		"backend":   is.impl.Name(),
		"operation": operation,
		"result":    result,
	}).Inc()

	is.metrics.Histogram("cache_storage_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		if types.IsError(err, types.ErrCacheQuotaExceeded) {
			return "quota"
		}
		return "error"
	}
	return "success"
}

// New returns the configured result cache, or a DisabledCache when caching is
// turned off.
func New(ctx context.Context, cacheConfig *types.CacheConfig, logger types.Logger, metrics types.MetricsManager) (types.ResultCache, error) {
	if cacheConfig == nil || !cacheConfig.Enabled {
		return NewDisabledCache(), nil
	}

	rc, err := NewResultCache(ctx, cacheConfig, logger, metrics)
	if err != nil {
		return nil, err
	}

	return rc, nil
}
