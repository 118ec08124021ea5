package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"hoa-nexus-rag/internal/model"
)

// ErrRunNotFound is returned for unknown or expired run ids.
var ErrRunNotFound = errors.New("indexing run not found")

// RunRepository stores the state of asynchronous indexing runs.
type RunRepository interface {
	Save(ctx context.Context, run *model.IndexingRun) error
	Get(ctx context.Context, runID string) (*model.IndexingRun, error)
}

type redisRunRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRunRepository keeps each run for ttl after its last update.
func NewRunRepository(rdb *redis.Client, ttl time.Duration) RunRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisRunRepository{rdb: rdb, ttl: ttl}
}

func runKey(runID string) string {
	return "indexing:run:" + runID
}

func (r *redisRunRepository) Save(ctx context.Context, run *model.IndexingRun) error {
	run.UpdatedAt = time.Now()
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return r.rdb.Set(ctx, runKey(run.RunID), data, r.ttl).Err()
}

func (r *redisRunRepository) Get(ctx context.Context, runID string) (*model.IndexingRun, error) {
	data, err := r.rdb.Get(ctx, runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	var run model.IndexingRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}
