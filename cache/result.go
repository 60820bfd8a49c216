package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
)

type ResultCacheState int32

const (
	ResultCacheStateStopped ResultCacheState = iota
	ResultCacheStateStarting
	ResultCacheStateRunning
	ResultCacheStateStopping
)

type Option func(*ResultCache)

// WithClock replaces time.Now for entry timestamps and age checks.
func WithClock(now func() time.Time) Option {
	return func(rc *ResultCache) {
		rc.now = now
	}
}

// WithStorage bypasses the storage registry.
func WithStorage(storage types.CacheStorage) Option {
	return func(rc *ResultCache) {
		rc.storage = storage
	}
}

// ResultCache is the policy layer over a CacheStorage: capacity accounting,
// oldest-first eviction, expiry and hit/miss bookkeeping. Storage failures
// are logged and absorbed: reads become misses, writes are dropped.
type ResultCache struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	config          *types.CacheConfig
	storage         types.CacheStorage
	codec           *EntryCodec
	sweeper         *sweeper
	now             func() time.Time
	seq             atomic.Uint64
	hits            atomic.Uint64
	misses          atomic.Uint64
	evictions       atomic.Uint64
	listeners       []types.EvictionListener
	listenersMu     sync.RWMutex
	writeMu         sync.Mutex
	state           atomic.Value
	shutdownTimeout time.Duration
}

// entryMeta is the accounting view of one stored entry.
type entryMeta struct {
	key       string
	createdAt time.Time
	seq       uint64
	size      int64
}

func NewResultCache(ctx context.Context, config *types.CacheConfig, logger types.Logger, metrics types.MetricsManager, opts ...Option) (*ResultCache, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	cacheCtx, cancel := context.WithCancel(ctx)

	rc := &ResultCache{
		ctx:             cacheCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		config:          config,
		now:             time.Now,
		shutdownTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(rc)
	}

	if rc.storage == nil {
		storage, err := NewStorage(cacheCtx, config, logger, metrics)
		if err != nil {
			cancel()
			return nil, err
		}
		rc.storage = storage
	}

	rc.codec = NewEntryCodec(rc.storage.Name() != "memory")

	if config.SweepSchedule != "" && config.MaxAge > 0 {
		s, err := newSweeper(logger, config.SweepSchedule, func() { rc.Sweep(rc.ctx) })
		if err != nil {
			cancel()
			return nil, err
		}
		rc.sweeper = s
	}

	rc.state.Store(ResultCacheStateStopped)

	return rc, nil
}

// OnEviction registers a listener called synchronously after every eviction.
func (rc *ResultCache) OnEviction(listener types.EvictionListener) {
	rc.listenersMu.Lock()
	defer rc.listenersMu.Unlock()
	rc.listeners = append(rc.listeners, listener)
}

func (rc *ResultCache) Start() error {
	if !rc.transitionState(ResultCacheStateStopped, ResultCacheStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := rc.storage.Start(); err != nil {
		rc.setState(ResultCacheStateStopped)
		return types.WrapError(err, "failed to start cache storage")
	}

	metas, err := rc.scan(rc.ctx, true)
	if err != nil {
		rc.logger.Warn("Cache storage unreadable at start", zap.Error(err))
	}

	var maxSeq uint64
	for _, m := range metas {
		if m.seq > maxSeq {
			maxSeq = m.seq
		}
	}
	rc.seq.Store(maxSeq)

	if rc.sweeper != nil {
		rc.sweeper.start()
	}

	rc.setState(ResultCacheStateRunning)

	rc.logger.Debug("Result cache started",
		zap.String("backend", rc.storage.Name()),
		zap.Int("entries", len(metas)),
		zap.Int("max_entries", rc.config.MaxEntries),
		zap.Int64("max_bytes", rc.config.MaxBytes))

	return nil
}

func (rc *ResultCache) Stop() error {
	if !rc.transitionState(ResultCacheStateRunning, ResultCacheStateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		rc.setState(ResultCacheStateStopped)
		rc.cancel()
	}()

	if rc.sweeper != nil {
		rc.sweeper.stop(rc.shutdownTimeout)
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()

	if err := rc.storage.Stop(); err != nil {
		return types.WrapError(err, "failed to stop cache storage")
	}

	return nil
}

func (rc *ResultCache) IsRunning() bool {
	return rc.getState() == ResultCacheStateRunning
}

func (rc *ResultCache) Lookup(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if key == "" {
		rc.recordMiss("empty_key")
		return nil, false
	}

	data, exists, err := rc.storage.Get(ctx, key)
	if err != nil {
		rc.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		rc.recordMiss("error")
		return nil, false
	}

	if !exists {
		rc.recordMiss("absent")
		return nil, false
	}

	entry, err := rc.codec.Decode(data)
	if err == nil && entry.Key != key {
		err = types.Errorf(types.ErrCacheEntryCorrupted, "stored under %s", entry.Key)
	}
	if err != nil {
		rc.logger.Warn("Dropping corrupted cache entry", zap.String("key", key), zap.Error(err))
		rc.deleteQuietly(ctx, key)
		rc.recordMiss("corrupted")
		return nil, false
	}

	if rc.expired(entry) {
		rc.deleteQuietly(ctx, key)
		rc.emitEviction([]string{key}, types.EvictionExpired)
		rc.recordMiss("expired")
		return nil, false
	}

	rc.hits.Add(1)
	rc.lookupCounter("hit").Inc()

	return entry, true
}

func (rc *ResultCache) Store(ctx context.Context, entry *types.CacheEntry) {
	if entry == nil || entry.Key == "" {
		rc.logger.Warn("Refusing to cache entry without key")
		return
	}

	stored := *entry
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = rc.now()
	}
	stored.Seq = rc.seq.Add(1)
	stored.Size = stored.EstimateSize()

	if rc.config.MaxBytes > 0 && stored.Size > rc.config.MaxBytes {
		rc.logger.Warn("Cache entry larger than capacity, not stored",
			zap.String("key", stored.Key),
			zap.Int64("size", stored.Size),
			zap.Int64("max_bytes", rc.config.MaxBytes))
		rc.storeCounter("oversized").Inc()
		return
	}

	data, err := rc.codec.Encode(&stored)
	if err != nil {
		rc.logger.Warn("Cache entry encode failed", zap.String("key", stored.Key), zap.Error(err))
		rc.storeCounter("error").Inc()
		return
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()

	metas, err := rc.scan(ctx, true)
	if err != nil {
		rc.logger.Warn("Cache write dropped, storage unreadable", zap.String("key", stored.Key), zap.Error(err))
		rc.storeCounter("error").Inc()
		return
	}

	candidates := make([]entryMeta, 0, len(metas))
	var count int
	var bytes int64
	for _, m := range metas {
		if m.key == stored.Key {
			continue
		}
		candidates = append(candidates, m)
		count++
		bytes += m.size
	}
	sortOldestFirst(candidates)

	var victims []string
	for len(candidates) > 0 && rc.overCapacity(count+1, bytes+stored.Size) {
		victim := candidates[0]
		candidates = candidates[1:]
		victims = append(victims, victim.key)
		count--
		bytes -= victim.size
	}

	if len(victims) > 0 {
		if err := rc.storage.Delete(ctx, victims...); err != nil {
			rc.logger.Warn("Cache eviction failed, write dropped", zap.Int("victims", len(victims)), zap.Error(err))
			rc.storeCounter("error").Inc()
			return
		}
		rc.emitEviction(victims, types.EvictionCapacity)
	}

	for {
		err := rc.storage.Put(ctx, stored.Key, data)
		if err == nil {
			rc.storeCounter("success").Inc()
			return
		}

		if !types.IsError(err, types.ErrCacheQuotaExceeded) || len(candidates) == 0 {
			rc.logger.Warn("Cache write dropped", zap.String("key", stored.Key), zap.Error(err))
			rc.storeCounter("dropped").Inc()
			return
		}

		victim := candidates[0]
		candidates = candidates[1:]

		if err := rc.storage.Delete(ctx, victim.key); err != nil {
			rc.logger.Warn("Cache eviction failed, write dropped", zap.String("victim", victim.key), zap.Error(err))
			rc.storeCounter("dropped").Inc()
			return
		}
		rc.emitEviction([]string{victim.key}, types.EvictionQuota)
	}
}

func (rc *ResultCache) ClearAll(ctx context.Context) {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()

	if err := rc.storage.Clear(ctx); err != nil {
		rc.logger.Warn("Cache clear failed", zap.Error(err))
	}

	rc.hits.Store(0)
	rc.misses.Store(0)
	rc.evictions.Store(0)

	rc.logger.Info("Result cache cleared", zap.String("backend", rc.storage.Name()))
}

func (rc *ResultCache) Stats(ctx context.Context) types.CacheStats {
	stats := types.CacheStats{
		MaxEntries: rc.config.MaxEntries,
		MaxBytes:   rc.config.MaxBytes,
		Hits:       rc.hits.Load(),
		Misses:     rc.misses.Load(),
		Evictions:  rc.evictions.Load(),
		Backend:    rc.storage.Name(),
	}

	metas, err := rc.scan(ctx, false)
	if err != nil {
		rc.logger.Warn("Cache stats unavailable", zap.Error(err))
		return stats
	}

	for _, m := range metas {
		stats.Entries++
		stats.Bytes += m.size
	}

	if rc.metrics != nil {
		labels := map[string]string{"backend": stats.Backend}
		rc.metrics.Gauge("cache_entries", labels).Set(float64(stats.Entries))
		rc.metrics.Gauge("cache_bytes", labels).Set(float64(stats.Bytes))
	}

	return stats
}

// Sweep deletes entries older than max_age and returns how many were removed.
func (rc *ResultCache) Sweep(ctx context.Context) int {
	if rc.config.MaxAge <= 0 {
		return 0
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()

	metas, err := rc.scan(ctx, true)
	if err != nil {
		rc.logger.Warn("Cache sweep skipped", zap.Error(err))
		return 0
	}

	cutoff := rc.now().Add(-rc.config.MaxAge)

	var expired []string
	for _, m := range metas {
		if m.createdAt.Before(cutoff) {
			expired = append(expired, m.key)
		}
	}

	if len(expired) == 0 {
		return 0
	}

	if err := rc.storage.Delete(ctx, expired...); err != nil {
		rc.logger.Warn("Cache sweep failed", zap.Int("expired", len(expired)), zap.Error(err))
		return 0
	}

	rc.emitEviction(expired, types.EvictionExpired)
	return len(expired)
}

// scan decodes every stored entry. Undecodable records never count toward
// capacity; with prune set they are also deleted.
func (rc *ResultCache) scan(ctx context.Context, prune bool) ([]entryMeta, error) {
	records, err := rc.storage.Scan(ctx)
	if err != nil {
		return nil, err
	}

	metas := make([]entryMeta, 0, len(records))
	var corrupted []string

	for _, record := range records {
		entry, err := rc.codec.Decode(record.Data)
		if err != nil || entry.Key != record.Key {
			corrupted = append(corrupted, record.Key)
			continue
		}

		metas = append(metas, entryMeta{
			key:       entry.Key,
			createdAt: entry.CreatedAt,
			seq:       entry.Seq,
			size:      entry.Size,
		})
	}

	if prune && len(corrupted) > 0 {
		rc.logger.Warn("Removing corrupted cache records", zap.Int("count", len(corrupted)))
		rc.deleteQuietly(ctx, corrupted...)
	}

	return metas, nil
}

func (rc *ResultCache) overCapacity(entries int, bytes int64) bool {
	if rc.config.MaxEntries > 0 && entries > rc.config.MaxEntries {
		return true
	}
	if rc.config.MaxBytes > 0 && bytes > rc.config.MaxBytes {
		return true
	}
	return false
}

func (rc *ResultCache) expired(entry *types.CacheEntry) bool {
	if rc.config.MaxAge <= 0 {
		return false
	}
	return rc.now().Sub(entry.CreatedAt) > rc.config.MaxAge
}

func (rc *ResultCache) deleteQuietly(ctx context.Context, keys ...string) {
	if err := rc.storage.Delete(ctx, keys...); err != nil {
		rc.logger.Debug("Cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (rc *ResultCache) emitEviction(keys []string, reason types.EvictionReason) {
	rc.evictions.Add(uint64(len(keys)))

	rc.logger.Info("Evicted cache entries",
		zap.Int("count", len(keys)),
		zap.String("reason", string(reason)))

	if rc.metrics != nil {
		rc.metrics.Counter("cache_evictions_total", map[string]string{"reason": string(reason)}).Add(float64(len(keys)))
	}

	event := types.EvictionEvent{Count: len(keys), Keys: keys, Reason: reason}

	rc.listenersMu.RLock()
	listeners := make([]types.EvictionListener, len(rc.listeners))
	copy(listeners, rc.listeners)
	rc.listenersMu.RUnlock()

	for _, listener := range listeners {
		listener(event)
	}
}

func (rc *ResultCache) recordMiss(reason string) {
	rc.misses.Add(1)
	rc.lookupCounter(reason).Inc()
}

func (rc *ResultCache) lookupCounter(result string) types.Counter {
	if rc.metrics == nil {
		return noopCounter{}
	}
	return rc.metrics.Counter("cache_lookups_total", map[string]string{"result": result})
}

func (rc *ResultCache) storeCounter(result string) types.Counter {
	if rc.metrics == nil {
		return noopCounter{}
	}
	return rc.metrics.Counter("cache_stores_total", map[string]string{"result": result})
}

func sortOldestFirst(metas []entryMeta) {
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].createdAt.Equal(metas[j].createdAt) {
			return metas[i].createdAt.Before(metas[j].createdAt)
		}
		if metas[i].seq != metas[j].seq {
			return metas[i].seq < metas[j].seq
		}
		return metas[i].key < metas[j].key
	})
}

func (rc *ResultCache) getState() ResultCacheState {
	return rc.state.Load().(ResultCacheState)
}

func (rc *ResultCache) setState(newState ResultCacheState) bool {
	currentState := rc.getState()
	return rc.state.CompareAndSwap(currentState, newState)
}

func (rc *ResultCache) transitionState(from, to ResultCacheState) bool {
	return rc.state.CompareAndSwap(from, to)
}

type noopCounter struct{}

func (noopCounter) Inc()          {}
func (noopCounter) Add(_ float64) {}
func (noopCounter) Get() float64  { return 0 }
