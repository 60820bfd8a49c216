package cache

import (
	"context"
	"sync/atomic"

	"github.com/saiset-co/autoglean/types"
)

// DisabledCache is used when cache.enabled is false: every lookup misses and
// stores are discarded.
type DisabledCache struct {
	misses  atomic.Uint64
	running atomic.Bool
}

func NewDisabledCache() *DisabledCache {
	return &DisabledCache{}
}

func (d *DisabledCache) Start() error {
	d.running.Store(true)
	return nil
}

func (d *DisabledCache) Stop() error {
	d.running.Store(false)
	return nil
}

func (d *DisabledCache) IsRunning() bool {
	return d.running.Load()
}

func (d *DisabledCache) Lookup(_ context.Context, _ string) (*types.CacheEntry, bool) {
	d.misses.Add(1)
	return nil, false
}

func (d *DisabledCache) Store(_ context.Context, _ *types.CacheEntry) {}

func (d *DisabledCache) ClearAll(_ context.Context) {
	d.misses.Store(0)
}

func (d *DisabledCache) Stats(_ context.Context) types.CacheStats {
	return types.CacheStats{Misses: d.misses.Load(), Backend: "disabled"}
}

func (d *DisabledCache) Sweep(_ context.Context) int {
	return 0
}
