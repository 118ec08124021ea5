package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"hoa-nexus-rag/pkg/log"
)

// OpenRedis connects to Redis and pings it.
func OpenRedis(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
