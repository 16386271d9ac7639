package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"parcelflow/internal/logx"
)

// compare-and-delete: only the holder's token may release the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig tunes the distributed lock.
type RedisConfig struct {
	Prefix     string
	TTL        time.Duration
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

// RedisLocker is a Locker shared by every instance talking to the same Redis.
type RedisLocker struct {
	client redis.UniversalClient
	cfg    RedisConfig
	logger logx.Logger
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig, logger logx.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "parcelflow:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.RetryDelay {
		cfg.MaxDelay = 20 * cfg.RetryDelay
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &RedisLocker{client: client, cfg: cfg, logger: logger}
}

// Lock retries SET NX with capped backoff until it wins or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.cfg.Prefix + key
	token := uuid.NewString()
	delay := l.cfg.RetryDelay

	for {
		ok, err := l.client.SetNX(ctx, k, token, l.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			return l.releaser(k, token), nil
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > l.cfg.MaxDelay {
			delay = l.cfg.MaxDelay
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	return func() {
		// the caller's ctx may already be done; release must still reach redis
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL)
		defer cancel()
		n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("lock release failed", logx.String("key", key), logx.Any("err", err))
			return
		}
		if n == 0 {
			l.logger.Warn("lock expired before release", logx.String("key", key))
		}
	}
}
