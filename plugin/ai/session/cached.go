package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/bankdesk/plugin/ai/cache"
)

const (
	cachePrefix = "checkpoint:"
	cacheTTL    = 10 * time.Minute
)

// cachedStore is a read-through cache in front of another Store.
type cachedStore struct {
	next  Store
	cache cache.CacheService
	loads singleflight.Group
}

// NewCachedStore wraps next with a read-through cache.
// Concurrent loads of one session share a single backend read, and every write
// invalidates the cached entry.
func NewCachedStore(next Store, c cache.CacheService) Store {
	return &cachedStore{next: next, cache: c}
}

func (s *cachedStore) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if cp := s.loadFromCache(ctx, sessionID); cp != nil {
		return cp, nil
	}

	v, err, _ := s.loads.Do(sessionID, func() (any, error) {
		cp, err := s.next.Load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		s.updateCache(ctx, cp)
		return cp, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing the flight must not share the value.
	return v.(*Checkpoint).Clone(), nil
}

func (s *cachedStore) Replace(ctx context.Context, cp *Checkpoint) (*Checkpoint, error) {
	defer s.invalidate(ctx, cp.SessionID)
	return s.next.Replace(ctx, cp)
}

func (s *cachedStore) Update(ctx context.Context, sessionID string, update *Update) (*Checkpoint, error) {
	defer s.invalidate(ctx, sessionID)
	return s.next.Update(ctx, sessionID, update)
}

func (s *cachedStore) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := s.next.CleanupExpired(ctx, retention)
	if deleted > 0 {
		if invErr := s.cache.Invalidate(ctx, cachePrefix+"*"); invErr != nil {
			slog.Warn("failed to invalidate checkpoint cache", "error", invErr)
		}
	}
	return deleted, err
}

func (s *cachedStore) loadFromCache(ctx context.Context, sessionID string) *Checkpoint {
	key := cachePrefix + sessionID
	data, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Warn("failed to unmarshal cached checkpoint", "key", key, "error", err)
		return nil
	}
	return &cp
}

func (s *cachedStore) updateCache(ctx context.Context, cp *Checkpoint) {
	data, err := json.Marshal(cp)
	if err != nil {
		slog.Warn("failed to marshal checkpoint for cache", "session_id", cp.SessionID, "error", err)
		return
	}

	key := cachePrefix + cp.SessionID
	if err := s.cache.Set(ctx, key, data, cacheTTL); err != nil {
		slog.Warn("failed to update cache", "key", key, "error", err)
	}
}

func (s *cachedStore) invalidate(ctx context.Context, sessionID string) {
	s.loads.Forget(sessionID)
	key := cachePrefix + sessionID
	if err := s.cache.Invalidate(ctx, key); err != nil {
		slog.Warn("failed to invalidate cache", "key", key, "error", err)
	}
}

var _ Store = (*cachedStore)(nil)
