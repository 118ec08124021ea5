package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-nexus-rag/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLeaseAcquireRelease(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewLeaseRepository(rdb)
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, "f1", "run-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Acquire(ctx, "f1", "run-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second run must not get the lease")

	// only the holder can release
	require.NoError(t, repo.Release(ctx, "f1", "run-b"))
	assert.True(t, mr.Exists(leaseKey("f1")))
	require.NoError(t, repo.Release(ctx, "f1", "run-a"))
	assert.False(t, mr.Exists(leaseKey("f1")))

	ok, err = repo.Acquire(ctx, "f1", "run-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewLeaseRepository(rdb)
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, "f1", "run-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	ok, err = repo.Acquire(ctx, "f1", "run-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunRepositoryRoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewRunRepository(rdb, time.Hour)
	ctx := context.Background()

	_, err := repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	run := &model.IndexingRun{
		RunID:  "r1",
		Status: model.RunCompleted,
		Scope:  model.Scope{FolderType: "governing"},
		Report: &model.IndexingRunReport{RunID: "r1", Total: 3, Successful: 2, Skipped: 1},
	}
	require.NoError(t, repo.Save(ctx, run))
	assert.Equal(t, time.Hour, mr.TTL(runKey("r1")))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, got.Status)
	assert.Equal(t, "governing", got.Scope.FolderType)
	require.NotNil(t, got.Report)
	assert.Equal(t, 2, got.Report.Successful)
}

func TestAttemptRepository(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewAttemptRepository(rdb)
	ctx := context.Background()

	n, err := repo.Incr(ctx, "file:f1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = repo.Incr(ctx, "file:f1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 24*time.Hour, mr.TTL(attemptKey("file:f1")))

	require.NoError(t, repo.Clear(ctx, "file:f1"))
	assert.False(t, mr.Exists(attemptKey("file:f1")))
}
