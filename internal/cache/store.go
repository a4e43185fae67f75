// Package cache provides the keyed store behind usage counters and the
// chatroom list cache.
package cache

import (
	"context"
	"time"
)

// Store is a keyed store with expiring entries and an atomic counter primitive
type Store interface {
	// IncrIfBelow increments the counter at key unless it already holds limit
	// or more. The TTL is applied when the counter is created. It returns the
	// counter value after the call and whether the increment happened.
	IncrIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error)
	// Get returns the value at key; ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}
