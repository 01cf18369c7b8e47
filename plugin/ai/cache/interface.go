// Package cache provides the byte cache used in front of session checkpoints.
package cache

import (
	"context"
	"time"
)

// CacheService defines the cache service interface.
type CacheService interface {
	// Get retrieves a value from cache.
	// Returns: value, whether it exists
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value in cache.
	// ttl: expiration time, the implementation default when zero
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate invalidates cache entries.
	// pattern: an exact key, or a prefix ending with * (checkpoint:ns:*)
	Invalidate(ctx context.Context, pattern string) error
}

// splitPattern reports the prefix of a wildcard pattern.
func splitPattern(pattern string) (prefix string, wildcard bool) {
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		return pattern[:len(pattern)-1], true
	}
	return pattern, false
}
