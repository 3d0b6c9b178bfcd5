package streamcontext

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs Store with github.com/redis/go-redis/v9, grounded on
// taipm-go-deep-agent's agent/cache_redis.go — the pack's clearest example
// of a TTL-refreshing Redis-backed KV wrapper (makeKey namespacing,
// redis.Nil handling, a single *redis.Client dependency injected rather
// than constructed internally).
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps an already-constructed redis client. ttl of zero
// uses DefaultTTL.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) AppendDelta(ctx context.Context, transactionID, text string) error {
	key := textKey(transactionID)
	pipe := s.client.TxPipeline()
	pipe.Append(ctx, key, text)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetAccumulated(ctx context.Context, transactionID string) (string, error) {
	val, err := s.client.Get(ctx, textKey(transactionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (s *RedisStore) IncrIndex(ctx context.Context, transactionID string) (int64, error) {
	key := indexKey(transactionID)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) GetIndex(ctx context.Context, transactionID string) (int64, error) {
	val, err := s.client.Get(ctx, indexKey(transactionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (s *RedisStore) Clear(ctx context.Context, transactionID string) error {
	return s.client.Del(ctx, textKey(transactionID), indexKey(transactionID)).Err()
}

var _ Store = (*RedisStore)(nil)
