package cache

import (
	"context"
	"encoding/base64"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

const (
	cloverKeyField  = "key"
	cloverDataField = "data"
)

type CloverConfig struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
}

// CloverStorage keeps one document per entry: the cache key and the encoded
// payload as base64 text.
type CloverStorage struct {
	db     *clover.DB
	logger types.Logger
	config *CloverConfig
	mu     sync.Mutex
	state  atomic.Value
}

func NewCloverStorage(_ context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheStorage, error) {
	var cloverConfig = &CloverConfig{
		Path:       "autoglean-cache",
		Collection: "results",
	}

	if config != nil && config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, cloverConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover cache config")
		}
	}

	if err := os.MkdirAll(cloverConfig.Path, 0o755); err != nil {
		return nil, types.Wrap(types.ErrCacheConnectionFailed, err)
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.Wrap(types.ErrCacheConnectionFailed, err)
	}

	storage := &CloverStorage{
		db:     db,
		logger: logger,
		config: cloverConfig,
	}

	if err := storage.ensureCollection(); err != nil {
		_ = db.Close()
		return nil, err
	}

	storage.state.Store(StorageStateStopped)
	return storage, nil
}

func (c *CloverStorage) Name() string {
	return "clover"
}

func (c *CloverStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	docs, err := c.db.Query(c.config.Collection).Where(clover.Field(cloverKeyField).Eq(key)).FindAll()
	if err != nil {
		return nil, false, types.Wrap(types.ErrCacheReadWrite, err)
	}

	if len(docs) == 0 {
		return nil, false, nil
	}

	_, data, err := decodeCloverDocument(docs[len(docs)-1])
	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

func (c *CloverStorage) Put(_ context.Context, key string, data []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(c.config.Collection).Where(clover.Field(cloverKeyField).Eq(key)).Delete(); err != nil {
		return types.Wrap(types.ErrCacheReadWrite, err)
	}

	doc := clover.NewDocument()
	doc.Set(cloverKeyField, key)
	doc.Set(cloverDataField, base64.StdEncoding.EncodeToString(data))

	if err := c.db.Insert(c.config.Collection, doc); err != nil {
		return types.Wrap(types.ErrCacheReadWrite, err)
	}

	return nil
}

func (c *CloverStorage) Delete(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		values = append(values, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(c.config.Collection).Where(clover.Field(cloverKeyField).In(values...)).Delete(); err != nil {
		return types.Wrap(types.ErrCacheReadWrite, err)
	}

	return nil
}

func (c *CloverStorage) Scan(_ context.Context) ([]types.StoredRecord, error) {
	docs, err := c.db.Query(c.config.Collection).FindAll()
	if err != nil {
		return nil, types.Wrap(types.ErrCacheReadWrite, err)
	}

	records := make([]types.StoredRecord, 0, len(docs))
	for _, doc := range docs {
		key, data, err := decodeCloverDocument(doc)
		if err != nil {
			c.logger.Warn("Skipping unreadable clover document", zap.Error(err))
			continue
		}
		records = append(records, types.StoredRecord{Key: key, Data: data})
	}

	return records, nil
}

func (c *CloverStorage) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(c.config.Collection).Delete(); err != nil {
		return types.Wrap(types.ErrCacheReadWrite, err)
	}

	return nil
}

func (c *CloverStorage) Start() error {
	if !c.transitionState(StorageStateStopped, StorageStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if c.getState() == StorageStateStarting {
			c.setState(StorageStateRunning)
		}
	}()

	c.logger.Debug("Clover cache storage started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverStorage) Stop() error {
	if !c.transitionState(StorageStateRunning, StorageStateStopping) {
		return types.ErrServerNotRunning
	}

	defer c.setState(StorageStateStopped)

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover storage")
	}

	return nil
}

func (c *CloverStorage) IsRunning() bool {
	return c.getState() == StorageStateRunning
}

func (c *CloverStorage) ensureCollection() error {
	exists, err := c.db.HasCollection(c.config.Collection)
	if err != nil {
		return types.Wrap(types.ErrCacheConnectionFailed, err)
	}

	if exists {
		return nil
	}

	if err := c.db.CreateCollection(c.config.Collection); err != nil {
		return types.Wrap(types.ErrCacheConnectionFailed, err)
	}

	return nil
}

func decodeCloverDocument(doc *clover.Document) (string, []byte, error) {
	fields := make(map[string]interface{})
	if err := doc.Unmarshal(&fields); err != nil {
		return "", nil, types.Wrap(types.ErrCacheEntryCorrupted, err)
	}

	key, _ := fields[cloverKeyField].(string)
	encoded, _ := fields[cloverDataField].(string)
	if key == "" {
		return "", nil, types.Errorf(types.ErrCacheEntryCorrupted, "document without key")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, types.Wrap(types.ErrCacheEntryCorrupted, err)
	}

	return key, data, nil
}

func (c *CloverStorage) getState() StorageState {
	return c.state.Load().(StorageState)
}

func (c *CloverStorage) setState(newState StorageState) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *CloverStorage) transitionState(from, to StorageState) bool {
	return c.state.CompareAndSwap(from, to)
}
