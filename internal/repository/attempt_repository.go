package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptRepository counts consumer failures per task key.
type AttemptRepository interface {
	Incr(ctx context.Context, key string) (int64, error)
	Clear(ctx context.Context, key string) error
}

type redisAttemptRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAttemptRepository returns Redis-backed delivery counters.
func NewAttemptRepository(rdb *redis.Client) AttemptRepository {
	return &redisAttemptRepository{rdb: rdb, ttl: 24 * time.Hour}
}

func attemptKey(key string) string {
	return "kafka:attempts:" + key
}

func (r *redisAttemptRepository) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Incr(ctx, attemptKey(key)).Result()
	if err != nil {
		return 0, err
	}
	_ = r.rdb.Expire(ctx, attemptKey(key), r.ttl).Err()
	return n, nil
}

func (r *redisAttemptRepository) Clear(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, attemptKey(key)).Err()
}
