// Package cache provides the shared key-value capability used for reasoner
// plan caching, circuit-breaker state, rate-limit buckets, distributed locks,
// and stale-response recall. The in-memory implementation serves single-node
// deploys and tests; the Redis implementation maps the same operations onto a
// shared instance so multiple replicas coordinate. Both expose identical
// semantics so callers never branch on backend.
package cache

import (
	"context"
	"time"
)

// Cache is the shared-cache capability. All methods are safe for concurrent
// use. Implementations must keep Increment monotonic within one TTL window
// and must honor lock ownership on release.
type Cache interface {
	// GetJSON unmarshals the value at key into out. The bool reports whether
	// a live entry existed.
	GetJSON(ctx context.Context, key string, out any) (bool, error)

	// SetJSON stores v at key with the given TTL. A non-positive TTL stores
	// without expiry.
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error

	// Increment bumps the counter at key, creating it with the TTL when
	// absent or expired, and returns the post-increment value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// AcquireLock takes the named lock for owner. It fails (false, nil) when
	// any holder, including owner itself, currently holds the lock.
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// ReleaseLock releases the named lock only when owner still holds it.
	ReleaseLock(ctx context.Context, key, owner string) error
}
