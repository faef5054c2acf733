package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a Locker shared by every instance pointing at the same Redis.
// The lock key expires after TTL so a crashed holder cannot block an account forever.
type RedisLocker struct {
	Client     redis.Cmdable
	Prefix     string
	TTL        time.Duration
	RetryDelay time.Duration
	Logger     *slog.Logger
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker with sensible retry and expiry defaults.
func NewRedisLocker(client redis.Cmdable, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		Client:     client,
		Prefix:     prefix,
		TTL:        ttl,
		RetryDelay: 25 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("%slock:%s", l.Prefix, key)
	token := uuid.New().String()

	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}

		select {
		case <-time.After(l.RetryDelay):
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		n, err := releaseScript.Run(releaseCtx, l.Client, []string{redisKey}, token).Int()
		if err != nil {
			l.Logger.Error("failed to release lock", "key", redisKey, "error", err)
			return
		}
		if n == 0 {
			l.Logger.Warn("lock expired before release", "key", redisKey, "ttl", l.TTL)
		}
	}, nil
}
