package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/autoglean/logger"
	"github.com/saiset-co/autoglean/types"
)

type storageFactory func(t *testing.T) types.CacheStorage

func storageFactories() map[string]storageFactory {
	factories := map[string]storageFactory{
		"memory": func(t *testing.T) types.CacheStorage {
			s, err := NewMemoryStorage(context.Background(), logger.NewNop(), &types.CacheConfig{})
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) types.CacheStorage {
			s, err := NewSQLiteStorage(context.Background(), logger.NewNop(), &types.CacheConfig{
				Config: map[string]interface{}{"path": filepath.Join(t.TempDir(), "cache.db")},
			})
			require.NoError(t, err)
			return s
		},
		"clover": func(t *testing.T) types.CacheStorage {
			s, err := NewCloverStorage(context.Background(), logger.NewNop(), &types.CacheConfig{
				Config: map[string]interface{}{"path": filepath.Join(t.TempDir(), "clover")},
			})
			require.NoError(t, err)
			return s
		},
	}

	if addr := os.Getenv("AUTOGLEAN_TEST_REDIS_ADDR"); addr != "" {
		host, port, _ := strings.Cut(addr, ":")
		portNum, _ := strconv.Atoi(port)
		factories["redis"] = func(t *testing.T) types.CacheStorage {
			s, err := NewRedisStorage(context.Background(), logger.NewNop(), &types.CacheConfig{
				Config: map[string]interface{}{
					"host":       host,
					"port":       portNum,
					"key_prefix": "autoglean-test:" + t.Name(),
				},
			})
			require.NoError(t, err)
			require.NoError(t, s.Clear(context.Background()))
			return s
		}
	}

	return factories
}

func TestStorageBackends(t *testing.T) {
	for name, factory := range storageFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.Start())
			t.Cleanup(func() { _ = s.Stop() })

			assert.Equal(t, name, s.Name())

			_, ok, err := s.Get(ctx, "ag1:missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, "ag1:a", []byte("alpha")))
			require.NoError(t, s.Put(ctx, "ag1:b", []byte{0x00, 0xff, 0x10}))
			require.NoError(t, s.Put(ctx, "ag1:a", []byte("alpha-2")))

			data, ok, err := s.Get(ctx, "ag1:a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("alpha-2"), data)

			data, ok, err = s.Get(ctx, "ag1:b")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte{0x00, 0xff, 0x10}, data)

			records, err := s.Scan(ctx)
			require.NoError(t, err)
			keys := make([]string, 0, len(records))
			for _, r := range records {
				keys = append(keys, r.Key)
			}
			sort.Strings(keys)
			assert.Equal(t, []string{"ag1:a", "ag1:b"}, keys)

			require.NoError(t, s.Delete(ctx, "ag1:a", "ag1:never-existed"))
			_, ok, err = s.Get(ctx, "ag1:a")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Clear(ctx))
			require.NoError(t, s.Clear(ctx))
			records, err = s.Scan(ctx)
			require.NoError(t, err)
			assert.Empty(t, records)

			assert.ErrorIs(t, s.Put(ctx, "", []byte("x")), types.ErrCacheKeyEmpty)
		})
	}
}

func TestResultCache_PersistentBackends(t *testing.T) {
	for name, factory := range storageFactories() {
		if name == "memory" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			rc, _ := newTestCache(t, &types.CacheConfig{MaxEntries: 2}, WithStorage(factory(t)))
			ctx := context.Background()

			rc.Store(ctx, entry("ag1:aa", "a"))
			rc.Store(ctx, entry("ag1:bb", "b"))
			rc.Store(ctx, entry("ag1:cc", "c"))

			_, ok := rc.Lookup(ctx, "ag1:aa")
			assert.False(t, ok)

			out, ok := rc.Lookup(ctx, "ag1:cc")
			require.True(t, ok)
			assert.Equal(t, "c", out.Content)
			assert.Equal(t, 2, rc.Stats(ctx).Entries)
		})
	}
}

func TestSQLiteStorage_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cfg := &types.CacheConfig{Config: map[string]interface{}{"path": path}}
	ctx := context.Background()

	first, err := NewSQLiteStorage(ctx, logger.NewNop(), cfg)
	require.NoError(t, err)
	require.NoError(t, first.Start())
	require.NoError(t, first.Put(ctx, "ag1:kept", []byte("payload")))
	require.NoError(t, first.Stop())

	second, err := NewSQLiteStorage(ctx, logger.NewNop(), cfg)
	require.NoError(t, err)
	require.NoError(t, second.Start())
	defer second.Stop()

	data, ok, err := second.Get(ctx, "ag1:kept")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
}

func TestSQLiteStorage_RejectsBadTableName(t *testing.T) {
	_, err := NewSQLiteStorage(context.Background(), logger.NewNop(), &types.CacheConfig{
		Config: map[string]interface{}{
			"path":  filepath.Join(t.TempDir(), "cache.db"),
			"table": "entries; DROP TABLE x",
		},
	})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestMemoryStorage_Quota(t *testing.T) {
	s, err := NewMemoryStorage(context.Background(), logger.NewNop(), &types.CacheConfig{
		Config: map[string]interface{}{"max_memory": 10},
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", []byte("12345")))
	require.NoError(t, s.Put(ctx, "b", []byte("12345")))
	assert.ErrorIs(t, s.Put(ctx, "c", []byte("1")), types.ErrCacheQuotaExceeded)

	require.NoError(t, s.Put(ctx, "a", []byte("1234")), "overwrite frees the old payload first")
	require.NoError(t, s.Delete(ctx, "b"))
	require.NoError(t, s.Put(ctx, "c", []byte("123456")))
}

func TestEntryCodec(t *testing.T) {
	in := entry("ag1:aa", strings.Repeat("| col | col |\n", 200))

	plain, err := NewEntryCodec(false).Encode(in)
	require.NoError(t, err)
	compressed, err := NewEntryCodec(true).Encode(in)
	require.NoError(t, err)

	assert.Less(t, len(compressed), len(plain))

	for _, data := range [][]byte{plain, compressed} {
		out, err := NewEntryCodec(true).Decode(data)
		require.NoError(t, err)
		assert.Equal(t, in.Content, out.Content)
	}

	for _, bad := range [][]byte{nil, []byte("x"), []byte("zz"), []byte("b\x00\x01garbage"), []byte(`j{"content":"no key"}`)} {
		_, err := NewEntryCodec(false).Decode(bad)
		assert.ErrorIs(t, err, types.ErrCacheEntryCorrupted, "%q", bad)
	}
}
