// Package cache holds the per-world cache handle opened for each activation.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a key/value cache scoped to one world.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Flush drops every key of this store's namespace and returns how many were removed.
	Flush(ctx context.Context) (int, error)
	Close() error
}
