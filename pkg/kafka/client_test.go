package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/pkg/tasks"
)

type counter struct {
	n       map[string]int64
	failing bool
}

func (c *counter) Incr(_ context.Context, key string) (int64, error) {
	if c.failing {
		return 0, errors.New("redis down")
	}
	c.n[key]++
	return c.n[key], nil
}

func (c *counter) Clear(_ context.Context, key string) error {
	delete(c.n, key)
	return nil
}

type handlerFunc func(ctx context.Context, task tasks.IndexTask) error

func (f handlerFunc) HandleTask(ctx context.Context, task tasks.IndexTask) error { return f(ctx, task) }

func message(t *testing.T, task tasks.IndexTask) kafka.Message {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(task.Key()), Value: b}
}

func newTestConsumer(maxAttempts int, cnt AttemptCounter) *Consumer {
	c := NewConsumer(config.KafkaConfig{MaxAttempts: maxAttempts}, cnt)
	c.retryDelay = time.Millisecond
	return c
}

func TestHandleCommitsOnSuccess(t *testing.T) {
	cnt := &counter{n: map[string]int64{"file:f1:r1": 2}}
	c := newTestConsumer(3, cnt)

	var got tasks.IndexTask
	ok := c.handle(context.Background(), message(t, tasks.IndexTask{Type: tasks.TypeIndexFile, RunID: "r1", FileID: "f1", Force: true}),
		handlerFunc(func(_ context.Context, task tasks.IndexTask) error {
			got = task
			return nil
		}))
	assert.True(t, ok)
	assert.Equal(t, "f1", got.FileID)
	assert.True(t, got.Force)
	assert.Empty(t, cnt.n)
}

func TestHandleRetriesInPlaceUntilMaxAttempts(t *testing.T) {
	cnt := &counter{n: map[string]int64{}}
	c := newTestConsumer(3, cnt)
	calls := 0
	failing := handlerFunc(func(context.Context, tasks.IndexTask) error {
		calls++
		return errors.New("es unavailable")
	})

	ok := c.handle(context.Background(), message(t, tasks.IndexTask{Type: tasks.TypeIndexBatch, RunID: "r9"}), failing)
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
	assert.Empty(t, cnt.n)
}

func TestHandleSucceedsOnRetry(t *testing.T) {
	cnt := &counter{n: map[string]int64{}}
	c := newTestConsumer(3, cnt)
	calls := 0
	flaky := handlerFunc(func(context.Context, tasks.IndexTask) error {
		calls++
		if calls == 1 {
			return errors.New("minio timeout")
		}
		return nil
	})

	ok := c.handle(context.Background(), message(t, tasks.IndexTask{Type: tasks.TypeIndexFile, RunID: "r2", FileID: "f2"}), flaky)
	assert.True(t, ok)
	assert.Equal(t, 2, calls)
	assert.Empty(t, cnt.n)
}

func TestHandleResumesAttemptsAfterRedelivery(t *testing.T) {
	cnt := &counter{n: map[string]int64{"run:r3:r3": 2}}
	c := newTestConsumer(3, cnt)
	calls := 0
	failing := handlerFunc(func(context.Context, tasks.IndexTask) error {
		calls++
		return errors.New("x")
	})

	assert.True(t, c.handle(context.Background(), message(t, tasks.IndexTask{Type: tasks.TypeIndexBatch, RunID: "r3"}), failing))
	assert.Equal(t, 1, calls)
}

func TestHandleWithoutCounterStillBoundsRetries(t *testing.T) {
	c := newTestConsumer(2, &counter{failing: true})
	calls := 0
	ok := c.handle(context.Background(), message(t, tasks.IndexTask{Type: tasks.TypeIndexBatch, RunID: "r"}),
		handlerFunc(func(context.Context, tasks.IndexTask) error {
			calls++
			return errors.New("x")
		}))
	assert.True(t, ok)
	assert.Equal(t, 2, calls)
}

func TestHandleCancelledDuringRetryLeavesOffset(t *testing.T) {
	cnt := &counter{n: map[string]int64{}}
	c := newTestConsumer(5, cnt)
	c.retryDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	ok := c.handle(ctx, message(t, tasks.IndexTask{Type: tasks.TypeIndexFile, RunID: "r4", FileID: "f4"}),
		handlerFunc(func(context.Context, tasks.IndexTask) error {
			cancel()
			return errors.New("x")
		}))
	assert.False(t, ok)
	assert.EqualValues(t, 1, cnt.n["file:f4:r4"])
}

func TestHandleMalformedMessageIsCommitted(t *testing.T) {
	c := NewConsumer(config.KafkaConfig{}, &counter{n: map[string]int64{}})
	called := false
	ok := c.handle(context.Background(), kafka.Message{Value: []byte("{not json")},
		handlerFunc(func(context.Context, tasks.IndexTask) error { called = true; return nil }))
	assert.True(t, ok)
	assert.False(t, called)
}

func TestBrokersSplit(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, brokers(config.KafkaConfig{Brokers: " k1:9092, ,k2:9092"}))
}
