package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a Cache backed by a shared Redis instance. Locks use SET NX with
// an owner token and a compare-and-delete release script, so replicas never
// release each other's locks.
type Redis struct {
	client  *redis.Client
	logger  *zap.Logger
	logOnce sync.Once
}

// releaseScript deletes the lock key only when the stored owner matches.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// NewRedis wraps an existing client. A nil logger is replaced with a no-op.
func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}
}

// logFailure records the first backend failure; the cache contract is to
// degrade silently after that.
func (r *Redis) logFailure(op string, err error) {
	r.logOnce.Do(func() {
		r.logger.Warn("shared cache degraded", zap.String("op", op), zap.Error(err))
	})
}

// GetJSON implements Cache.
func (r *Redis) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		r.logFailure("get", err)
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON implements Cache.
func (r *Redis) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logFailure("set", err)
		return err
	}
	return nil
}

// Increment implements Cache. EXPIRE NX pins the window to the first
// increment so later bumps never extend it.
func (r *Redis) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logFailure("incr", err)
		return 0, err
	}
	return incr.Val(), nil
}

// AcquireLock implements Cache.
func (r *Redis) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		r.logFailure("lock", err)
		return false, err
	}
	return ok, nil
}

// ReleaseLock implements Cache.
func (r *Redis) ReleaseLock(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		r.logFailure("unlock", err)
		return err
	}
	return nil
}

var _ Cache = (*Redis)(nil)
