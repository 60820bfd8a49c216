package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

type SQLiteConfig struct {
	Path  string `json:"path"`
	Table string `json:"table"`
	// MaxPageCount bounds the database file; writes past it fail with
	// SQLITE_FULL, reported as ErrCacheQuotaExceeded.
	MaxPageCount int `json:"max_page_count"`
}

type SQLiteStorage struct {
	db     *sql.DB
	logger types.Logger
	config *SQLiteConfig
	state  atomic.Value
}

func NewSQLiteStorage(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheStorage, error) {
	var sqliteConfig = &SQLiteConfig{
		Path:  "autoglean-cache.db",
		Table: "cache_entries",
	}

	if config != nil && config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, sqliteConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite cache config")
		}
	}

	if !validTableName(sqliteConfig.Table) {
		return nil, types.Errorf(types.ErrInvalidParameter, "sqlite table name: %q", sqliteConfig.Table)
	}

	if dir := filepath.Dir(sqliteConfig.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, types.Wrap(types.ErrCacheConnectionFailed, err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", sqliteConfig.Path))
	if err != nil {
		return nil, types.Wrap(types.ErrCacheConnectionFailed, err)
	}
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{
		db:     db,
		logger: logger,
		config: sqliteConfig,
	}

	if err := storage.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	storage.state.Store(StorageStateStopped)
	return storage, nil
}

func (s *SQLiteStorage) Name() string {
	return "sqlite"
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte

	err := s.db.QueryRowContext(ctx, "SELECT data FROM "+s.config.Table+" WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, s.mapError(err)
	}

	return data, true, nil
}

func (s *SQLiteStorage) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+s.config.Table+" (key, data) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET data = excluded.data",
		key, data)
	if err != nil {
		return s.mapError(err)
	}

	return nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		args = append(args, key)
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM "+s.config.Table+" WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return s.mapError(err)
	}

	return nil
}

func (s *SQLiteStorage) Scan(ctx context.Context) ([]types.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, data FROM "+s.config.Table+" ORDER BY key")
	if err != nil {
		return nil, s.mapError(err)
	}
	defer rows.Close()

	var records []types.StoredRecord
	for rows.Next() {
		var record types.StoredRecord
		if err := rows.Scan(&record.Key, &record.Data); err != nil {
			return nil, s.mapError(err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, s.mapError(err)
	}

	return records, nil
}

func (s *SQLiteStorage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+s.config.Table); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *SQLiteStorage) Start() error {
	if !s.transitionState(StorageStateStopped, StorageStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if s.getState() == StorageStateStarting {
			s.setState(StorageStateRunning)
		}
	}()

	s.logger.Debug("SQLite cache storage started", zap.String("path", s.config.Path))
	return nil
}

func (s *SQLiteStorage) Stop() error {
	if !s.transitionState(StorageStateRunning, StorageStateStopping) {
		return types.ErrServerNotRunning
	}

	defer s.setState(StorageStateStopped)

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite storage")
	}

	return nil
}

func (s *SQLiteStorage) IsRunning() bool {
	return s.getState() == StorageStateRunning
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	statements := []string{
		"CREATE TABLE IF NOT EXISTS " + s.config.Table + " (key TEXT PRIMARY KEY, data BLOB NOT NULL)",
	}

	if s.config.MaxPageCount > 0 {
		statements = append(statements, fmt.Sprintf("PRAGMA max_page_count = %d", s.config.MaxPageCount))
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return types.Wrap(types.ErrCacheConnectionFailed, err)
		}
	}

	return nil
}

func (s *SQLiteStorage) mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return types.Wrap(types.ErrCacheQuotaExceeded, err)
	}
	return types.Wrap(types.ErrCacheReadWrite, err)
}

func validTableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func (s *SQLiteStorage) getState() StorageState {
	return s.state.Load().(StorageState)
}

func (s *SQLiteStorage) setState(newState StorageState) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *SQLiteStorage) transitionState(from, to StorageState) bool {
	return s.state.CompareAndSwap(from, to)
}
