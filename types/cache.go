package types

import (
	"context"
	"time"
)

// ResultCache maps a file/extractor fingerprint to a previously computed
// extraction. It never reports storage failures to callers: reads degrade to
// a miss, writes are dropped.
type ResultCache interface {
	LifecycleManager
	Lookup(ctx context.Context, key string) (*CacheEntry, bool)
	Store(ctx context.Context, entry *CacheEntry)
	ClearAll(ctx context.Context)
	Stats(ctx context.Context) CacheStats
	Sweep(ctx context.Context) int
}

// CacheStorage is the raw key/value substrate under a ResultCache.
// Implementations must be safe for concurrent use.
type CacheStorage interface {
	LifecycleManager
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, keys ...string) error
	Scan(ctx context.Context) ([]StoredRecord, error)
	Clear(ctx context.Context) error
}

type CacheStorageCreator func(ctx context.Context, logger Logger, config *CacheConfig) (CacheStorage, error)

type StoredRecord struct {
	Key  string
	Data []byte
}

type CacheEntry struct {
	Key              string    `json:"key"`
	ExtractorID      string    `json:"extractor_id"`
	ExtractorVersion string    `json:"extractor_version"`
	FileName         string    `json:"file_name"`
	TaskID           string    `json:"task_id"`
	JobID            string    `json:"job_id"`
	Content          string    `json:"content"`
	ExtractedAt      time.Time `json:"extracted_at"`
	CreatedAt        time.Time `json:"created_at"`
	Seq              uint64    `json:"seq"`
	Size             int64     `json:"size"`
}

// EstimateSize is the accounting size used for capacity decisions.
func (e *CacheEntry) EstimateSize() int64 {
	return int64(len(e.Key) + len(e.ExtractorID) + len(e.ExtractorVersion) +
		len(e.FileName) + len(e.TaskID) + len(e.JobID) + len(e.Content))
}

type CacheStats struct {
	Entries    int    `json:"entries"`
	Bytes      int64  `json:"bytes"`
	MaxEntries int    `json:"max_entries"`
	MaxBytes   int64  `json:"max_bytes"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Backend    string `json:"backend"`
}

type EvictionReason string

const (
	EvictionCapacity EvictionReason = "capacity"
	EvictionQuota    EvictionReason = "quota"
	EvictionExpired  EvictionReason = "expired"
)

type EvictionEvent struct {
	Count  int
	Keys   []string
	Reason EvictionReason
}

type EvictionListener func(event EvictionEvent)
