package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// LeaseRepository hands out short-lived per-file leases so two runs never
// index the same file at the same time.
type LeaseRepository interface {
	Acquire(ctx context.Context, fileID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, fileID, owner string) error
}

type redisLeaseRepository struct {
	rdb *redis.Client
}

// NewLeaseRepository returns a LeaseRepository backed by Redis keys with TTL.
func NewLeaseRepository(rdb *redis.Client) LeaseRepository {
	return &redisLeaseRepository{rdb: rdb}
}

func leaseKey(fileID string) string {
	return "indexing:lease:" + fileID
}

func (r *redisLeaseRepository) Acquire(ctx context.Context, fileID, owner string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, leaseKey(fileID), owner, ttl).Result()
}

// releaseScript deletes the lease only if owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *redisLeaseRepository) Release(ctx context.Context, fileID, owner string) error {
	return releaseScript.Run(ctx, r.rdb, []string{leaseKey(fileID)}, owner).Err()
}
