package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Factory opens per-activation stores. Redis clients are dialed once per URL and shared by
// every store opened for that URL; an empty URL yields a fresh MemoryStore.
type Factory struct {
	mu      sync.Mutex
	clients map[string]*redis.Client
}

// NewFactory returns a factory with no open clients.
func NewFactory() *Factory {
	return &Factory{clients: make(map[string]*redis.Client)}
}

// Open returns a store whose keys live under "<namespace>:".
func (f *Factory) Open(ctx context.Context, redisURL, namespace string) (Store, error) {
	if redisURL == "" {
		return NewMemoryStore(), nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	client, ok := f.clients[redisURL]
	if !ok {
		var err error
		client, err = DialRedis(ctx, redisURL)
		if err != nil {
			return nil, err
		}
		f.clients[redisURL] = client
	}
	return NewRedisStore(client, namespace), nil
}

// Close closes every shared client.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for url, c := range f.clients {
		errs = append(errs, c.Close())
		delete(f.clients, url)
	}
	return errors.Join(errs...)
}
