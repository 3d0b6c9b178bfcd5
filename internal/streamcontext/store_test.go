package streamcontext

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStoreForTest(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, time.Hour)
}

func newMemoryStoreForTest(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(time.Hour, time.Minute)
	t.Cleanup(s.Close)
	return s
}

func TestStoreConformance(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name  string
		store func(t *testing.T) Store
	}{
		{"Memory", func(t *testing.T) Store { return newMemoryStoreForTest(t) }},
		{"Redis", func(t *testing.T) Store { return newRedisStoreForTest(t) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := tc.store(t)

			text, err := store.GetAccumulated(ctx, "txn-1")
			require.NoError(t, err)
			assert.Empty(t, text)

			require.NoError(t, store.AppendDelta(ctx, "txn-1", "Hello "))
			require.NoError(t, store.AppendDelta(ctx, "txn-1", "world"))

			text, err = store.GetAccumulated(ctx, "txn-1")
			require.NoError(t, err)
			assert.Equal(t, "Hello world", text)

			idx, err := store.IncrIndex(ctx, "txn-1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), idx)

			idx, err = store.IncrIndex(ctx, "txn-1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), idx)

			got, err := store.GetIndex(ctx, "txn-1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), got)

			require.NoError(t, store.Clear(ctx, "txn-1"))

			text, err = store.GetAccumulated(ctx, "txn-1")
			require.NoError(t, err)
			assert.Empty(t, text)

			got, err = store.GetIndex(ctx, "txn-1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), got)
		})
	}
}

func TestStoreIndependentKeyspaces(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStoreForTest(t)

	require.NoError(t, store.AppendDelta(ctx, "txn-a", "A"))
	require.NoError(t, store.AppendDelta(ctx, "txn-b", "B"))

	a, err := store.GetAccumulated(ctx, "txn-a")
	require.NoError(t, err)
	b, err := store.GetAccumulated(ctx, "txn-b")
	require.NoError(t, err)

	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
}
