package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const flushBatch = 200

// RedisStore namespaces every key with a prefix so worlds sharing one Redis never see each other's data.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// DialRedis parses a redis:// URL, connects and pings. The returned client is shared by
// the stores created with NewRedisStore.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore returns a store whose keys live under "<namespace>:". Close does not close the
// shared client.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	if client == nil {
		panic("redis client is required")
	}
	return &RedisStore{client: client, prefix: namespace + ":"}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return v, err
}

// Set implements Store. A zero ttl keeps the key until flushed.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Flush implements Store. Keys are collected with SCAN first and deleted afterwards in batches.
func (s *RedisStore) Flush(ctx context.Context) (int, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", flushBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for start := 0; start < len(keys); start += flushBatch {
		end := min(start+flushBatch, len(keys))
		n, err := s.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}

// Close implements Store. The shared client stays open.
func (s *RedisStore) Close() error {
	return nil
}
