package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
	ScanBatch          int64         `json:"scan_batch"`
}

type RedisStorage struct {
	ctx     context.Context
	logger  types.Logger
	config  *RedisConfig
	client  *redis.Client
	started int32
}

func NewRedisStorage(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheStorage, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           4,
		MinIdleConnections: 1,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "autoglean:cache",
		ScanBatch:          200,
	}

	if config != nil && config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	if redisConfig.ScanBatch <= 0 {
		redisConfig.ScanBatch = 200
	}

	storage := &RedisStorage{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
	}

	storage.initRedisClient()

	if err := storage.ping(); err != nil {
		_ = storage.client.Close()
		return nil, types.Wrap(types.ErrCacheConnectionFailed, err)
	}

	return storage, nil
}

func (r *RedisStorage) Name() string {
	return "redis"
}

func (r *RedisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	data, err := r.client.Get(ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, r.mapError(err)
	}

	return data, true, nil
}

func (r *RedisStorage) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := r.client.Set(ctx, r.buildFullKey(key), data, 0).Err(); err != nil {
		return r.mapError(err)
	}

	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			fullKeys = append(fullKeys, r.buildFullKey(key))
		}
	}

	if err := r.client.Del(ctx, fullKeys...).Err(); err != nil {
		return r.mapError(err)
	}

	return nil
}

func (r *RedisStorage) Scan(ctx context.Context) ([]types.StoredRecord, error) {
	fullKeys, err := r.scanKeys(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]types.StoredRecord, 0, len(fullKeys))

	for start := 0; start < len(fullKeys); start += int(r.config.ScanBatch) {
		end := start + int(r.config.ScanBatch)
		if end > len(fullKeys) {
			end = len(fullKeys)
		}
		batch := fullKeys[start:end]

		values, err := r.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, r.mapError(err)
		}

		for i, value := range values {
			s, ok := value.(string)
			if !ok {
				continue
			}
			records = append(records, types.StoredRecord{
				Key:  strings.TrimPrefix(batch[i], r.keyspace()),
				Data: []byte(s),
			})
		}
	}

	return records, nil
}

func (r *RedisStorage) Clear(ctx context.Context) error {
	fullKeys, err := r.scanKeys(ctx)
	if err != nil {
		return err
	}

	if len(fullKeys) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for start := 0; start < len(fullKeys); start += int(r.config.ScanBatch) {
		end := start + int(r.config.ScanBatch)
		if end > len(fullKeys) {
			end = len(fullKeys)
		}
		pipe.Del(ctx, fullKeys[start:end]...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return r.mapError(err)
	}

	return nil
}

func (r *RedisStorage) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	r.logger.Debug("Redis cache storage started",
		zap.String("addr", r.client.Options().Addr),
		zap.String("prefix", r.config.KeyPrefix))

	return nil
}

func (r *RedisStorage) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	return nil
}

func (r *RedisStorage) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisStorage) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string

	iter := r.client.Scan(ctx, 0, r.keyspace()+"*", r.config.ScanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, r.mapError(err)
	}

	return keys, nil
}

func (r *RedisStorage) initRedisClient() {
	r.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     r.config.PoolSize,
		MinIdleConns: r.config.MinIdleConnections,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
	})
}

func (r *RedisStorage) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisStorage) keyspace() string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":"
	}
	return ""
}

func (r *RedisStorage) buildFullKey(key string) string {
	return r.keyspace() + key
}

// mapError turns maxmemory rejections into quota errors so the result cache
// evicts instead of dropping the write outright.
func (r *RedisStorage) mapError(err error) error {
	if strings.HasPrefix(err.Error(), "OOM") {
		return types.Wrap(types.ErrCacheQuotaExceeded, err)
	}
	return types.Wrap(types.ErrCacheReadWrite, err)
}
