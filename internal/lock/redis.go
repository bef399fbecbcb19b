package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shopfront.io/internal/ids"
	"shopfront.io/internal/obs"
)

const (
	defaultPrefix    = "shopfront:lock:"
	defaultRetry     = 25 * time.Millisecond
	releaseTimeout   = time.Second
	minimumLeaseTime = 100 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so a
// lease that expired and was taken over is never released by its old owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX PX on a shared Redis server.
type Redis struct {
	client redis.UniversalClient
	prefix string
	retry  time.Duration
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRetryInterval sets how long Acquire waits between attempts.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retry = d
		}
	}
}

// NewRedis wraps client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("lock: redis client is required")
	}
	r := &Redis{client: client, prefix: defaultPrefix, retry: defaultRetry}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Acquire polls until the key is set or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if ttl < minimumLeaseTime {
		ttl = minimumLeaseTime
	}
	name := r.prefix + key
	token := ids.New()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, name, token, ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return r.releaser(name, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaser(name, token string) Release {
	var once sync.Once
	return func() {
		once.Do(func() { r.release(name, token) })
	}
}

func (r *Redis) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, r.client, []string{name}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		obs.Logger().Warn("lock release failed", zap.String("key", name), zap.Error(err))
	}
}
