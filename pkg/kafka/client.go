// Package kafka carries asynchronous indexing tasks over a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/pkg/log"
	"hoa-nexus-rag/pkg/tasks"
)

// TaskHandler processes one indexing task. A returned error makes the task
// eligible for redelivery until the attempt limit is reached.
type TaskHandler interface {
	HandleTask(ctx context.Context, task tasks.IndexTask) error
}

// AttemptCounter counts failed deliveries per task.
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Clear(ctx context.Context, key string) error
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer publishes indexing tasks.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer writes to cfg.Topic, hashing keys onto partitions.
func NewProducer(cfg config.KafkaConfig) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

// Publish sends task keyed by Key(), so tasks for one file stay ordered.
func (p *Producer) Publish(ctx context.Context, task tasks.IndexTask) error {
	value, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Key()),
		Value: value,
	})
}

// Close flushes pending messages.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads indexing tasks with manual offset commits. A failed task is
// retried in place, so later messages of the partition are not committed past it.
type Consumer struct {
	cfg        config.KafkaConfig
	attempts   AttemptCounter
	retryDelay time.Duration
}

// NewConsumer reads cfg.Topic as member of cfg.GroupID.
func NewConsumer(cfg config.KafkaConfig, attempts AttemptCounter) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Consumer{cfg: cfg, attempts: attempts, retryDelay: 2 * time.Second}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context, handler TaskHandler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(c.cfg),
		Topic:    c.cfg.Topic,
		GroupID:  c.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("[Kafka] close reader: %v", err)
		}
	}()

	log.Infof("[Kafka] consumer listening on topic '%s' (group %s)", c.cfg.Topic, c.cfg.GroupID)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if !c.handle(ctx, m, handler) {
			// shutting down mid-retry: leave the offset so the task is redelivered
			return nil
		}
		if err := r.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
			log.Errorf("[Kafka] commit offset %d: %v", m.Offset, err)
		}
	}
}

// handle processes one message, retrying failures up to cfg.MaxAttempts, and
// reports whether its offset should be committed. It only returns false when
// ctx is cancelled before the task succeeded or ran out of attempts.
func (c *Consumer) handle(ctx context.Context, m kafka.Message, handler TaskHandler) bool {
	var task tasks.IndexTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		// a malformed message would block the partition forever
		log.Errorf("[Kafka] cannot decode message at offset %d: %v, value: %s", m.Offset, err, string(m.Value))
		return true
	}

	key := attemptKey(task)
	var local int64
	for {
		log.Infow("[Kafka] handling task", "type", task.Type, "runId", task.RunID, "fileId", task.FileID, "offset", m.Offset)
		err := handler.HandleTask(ctx, task)
		if err == nil {
			c.clearAttempts(ctx, key)
			return true
		}
		local++
		attempts := c.recordAttempt(ctx, key, local)
		log.Errorw("[Kafka] task failed", "type", task.Type, "runId", task.RunID, "fileId", task.FileID,
			"attempt", attempts, "error", err)
		if attempts >= int64(c.cfg.MaxAttempts) {
			log.Errorf("[Kafka] task %s failed %d times, giving up", key, attempts)
			c.clearAttempts(ctx, key)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay * time.Duration(attempts)):
		}
	}
}

// recordAttempt bumps the shared counter, which survives a restart that
// redelivers the task. Without it, the in-process count is used.
func (c *Consumer) recordAttempt(ctx context.Context, key string, local int64) int64 {
	n, err := c.attempts.Incr(context.WithoutCancel(ctx), key)
	if err != nil {
		log.Warnf("[Kafka] attempt counter unavailable: %v", err)
		return local
	}
	if n < local {
		return local
	}
	return n
}

func (c *Consumer) clearAttempts(ctx context.Context, key string) {
	if err := c.attempts.Clear(context.WithoutCancel(ctx), key); err != nil {
		log.Warnf("[Kafka] clear attempt counter %s: %v", key, err)
	}
}

func attemptKey(task tasks.IndexTask) string {
	return task.Key() + ":" + task.RunID
}
