package warning

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a RunLock backed by SET NX with an expiry.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLock creates a lock whose keys expire after ttl if never released.
func NewRedisLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl, logger: logger}
}

// Acquire implements RunLock.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("release run lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}
