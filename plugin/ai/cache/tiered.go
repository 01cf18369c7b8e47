package cache

import (
	"context"
	"log/slog"
	"time"
)

// TieredCache layers a process-local L1 in front of a shared L2.
//
//   - Get checks L1, then L2, and promotes L2 hits into L1.
//   - Set writes L2 first, then L1.
//   - Invalidate clears both tiers.
//
// L1 entries live for at most l1TTL so that a write made by another instance
// is observed within that window.
type TieredCache struct {
	l1    CacheService
	l2    CacheService
	l1TTL time.Duration
}

// NewTieredCache creates a two-tier cache. l2 may be nil, in which case only L1 is used.
func NewTieredCache(l1, l2 CacheService, l1TTL time.Duration) *TieredCache {
	if l1TTL <= 0 {
		l1TTL = 30 * time.Second
	}
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := t.l1.Get(ctx, key); ok {
		return value, true
	}
	if t.l2 == nil {
		return nil, false
	}
	value, ok := t.l2.Get(ctx, key)
	if !ok {
		return nil, false
	}
	if err := t.l1.Set(ctx, key, value, t.l1TTL); err != nil {
		slog.Debug("failed to promote cache entry", "key", key, "error", err)
	}
	return value, true
}

func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if t.l2 != nil {
		if err := t.l2.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	l1TTL := t.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	return t.l1.Set(ctx, key, value, l1TTL)
}

func (t *TieredCache) Invalidate(ctx context.Context, pattern string) error {
	// L1 is cleared even when L2 fails so this instance never serves the stale entry.
	l1Err := t.l1.Invalidate(ctx, pattern)
	if t.l2 != nil {
		if err := t.l2.Invalidate(ctx, pattern); err != nil {
			return err
		}
	}
	return l1Err
}

var _ CacheService = (*TieredCache)(nil)
