// Package lock guards processor triggers so overlapping invocations across instances
// skip instead of draining the same rows twice.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a crashed holder can keep a key. The processor has no
// deadline of its own, so a batch running longer than the TTL loses its lock while it
// is still running; raise LOCK_TTL above the slowest expected batch.
const DefaultTTL = 10 * time.Minute

var ErrHeld = errors.New("lock held by another invocation")

type Locker interface {
	// Acquire returns ErrHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Noop never contends. Used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the part of a go-redis client the lock uses.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

type Redis struct {
	Client Client
	Prefix string
	Log    *zap.Logger

	closer func() error
}

func NewRedis(ctx context.Context, addr string, log *zap.Logger) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &Redis{
		Client: rdb,
		Prefix: "campaignmailer:lock:",
		Log:    log,
		closer: rdb.Close,
	}, nil
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	full := r.Prefix + key

	ok, err := r.Client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := r.Client.Eval(releaseCtx, releaseScript, []string{full}, token).Err(); err != nil && r.Log != nil {
			r.Log.Warn("failed to release lock", zap.String("key", full), zap.Error(err))
		}
	}, nil
}

func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
