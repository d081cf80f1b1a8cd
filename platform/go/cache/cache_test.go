package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreNamespaces(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := DialRedis(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	a := NewRedisStore(client, "4")
	b := NewRedisStore(client, "5")

	require.NoError(t, a.Set(ctx, "players", []byte("12"), time.Minute))
	require.NoError(t, b.Set(ctx, "players", []byte("99"), 0))
	require.True(t, mr.Exists("4:players"))

	got, err := a.Get(ctx, "players")
	require.NoError(t, err)
	require.Equal(t, "12", string(got))

	for i := 0; i < 450; i++ {
		require.NoError(t, a.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0))
	}

	n, err := a.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 451, n)

	_, err = a.Get(ctx, "players")
	require.ErrorIs(t, err, ErrMiss)

	got, err = b.Get(ctx, "players")
	require.NoError(t, err)
	require.Equal(t, "99", string(got))

	require.NoError(t, b.Delete(ctx, "players"))
	_, err = b.Get(ctx, "players")
	require.ErrorIs(t, err, ErrMiss)
	require.NoError(t, b.Close())
}

func TestDialRedisRejectsBadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "not a url")
	require.Error(t, err)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))

	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	now = now.Add(2 * time.Second)
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrMiss)

	n, err := s.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Get(ctx, "b")
	require.ErrorIs(t, err, ErrMiss)
}

func TestFactorySharesRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	f := NewFactory()
	t.Cleanup(func() { _ = f.Close() })

	url := "redis://" + mr.Addr() + "/0"
	a, err := f.Open(ctx, url, "4")
	require.NoError(t, err)
	b, err := f.Open(ctx, url, "5")
	require.NoError(t, err)
	require.Len(t, f.clients, 1)

	require.NoError(t, a.Set(ctx, "k", []byte("v"), 0))
	require.True(t, mr.Exists("4:k"))
	_, err = b.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)

	mem, err := f.Open(ctx, "", "4")
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, mem)

	require.NoError(t, f.Close())
	require.Empty(t, f.clients)
}
