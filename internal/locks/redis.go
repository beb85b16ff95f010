package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisConfig configures the distributed locker.
type RedisConfig struct {
	Addr   string
	Prefix string
	// TTL bounds how long a crashed holder can block a session.
	TTL   time.Duration
	Retry time.Duration
}

// RedisLocker is a Locker shared by every replica pointing at the same Redis.
type RedisLocker struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedisLocker connects to Redis and verifies it answers.
func NewRedisLocker(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisLocker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "videa:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 50 * time.Millisecond
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisLocker{
		rdb:    rdb,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		retry:  cfg.Retry,
		logger: logger,
	}, nil
}

// Lock polls SET NX PX until it owns the key or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := unlockScript.Run(relCtx, l.rdb, []string{redisKey}, token).Int()
			if err != nil && !errors.Is(err, goredis.Nil) {
				l.logger.Warn("failed to release redis lock", "key", key, "error", err)
				return
			}
			if n == 0 {
				l.logger.Warn("redis lock expired before release", "key", key, "ttl", l.ttl)
			}
		})
	}, nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
