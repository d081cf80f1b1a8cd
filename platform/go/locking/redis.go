package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can keep a key locked.
const DefaultTTL = 30 * time.Minute

// releaseScript deletes the key only when it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes locks shared by every API replica through SET NX with an expiry.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLocker builds a locker. Keys are stored as <prefix><key>.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if client == nil {
		panic("redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	redisKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire redis lock %s: %w", redisKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var releaseErr error
		once.Do(func() {
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				releaseErr = fmt.Errorf("release redis lock %s: %w", redisKey, err)
			}
		})
		return releaseErr
	}, nil
}
