// Package queue provides the redis-backed pending-execution queue. When the
// engine is at its execution-concurrency ceiling and the overflow policy is
// queue, triggers are parked here and drained as slots free up.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultQueue is the redis list key holding pending triggers.
const DefaultQueue = "relay:pending-executions"

// PendingExecution is one parked trigger waiting for an execution slot.
type PendingExecution struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// Handler processes one dequeued pending execution.
type Handler func(ctx context.Context, pending PendingExecution) error

// Queue is a FIFO over one redis list (LPUSH producer, BRPOP consumer).
type Queue struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New connects to redis and returns the queue.
func New(ctx context.Context, redisURL, key string, logger *slog.Logger) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if key == "" {
		key = DefaultQueue
	}

	logger.InfoContext(ctx, "Connected to redis queue", "addr", opts.Addr, "key", key)

	return &Queue{
		client: client,
		key:    key,
		logger: logger.With("module", "queue", "key", key),
		stopCh: make(chan struct{}),
	}, nil
}

// Enqueue parks a pending execution at the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, pending PendingExecution) error {
	if pending.EnqueuedAt.IsZero() {
		pending.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending execution: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue pending execution: %w", err)
	}

	return nil
}

// Len returns the number of parked executions.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Drain consumes the queue in FIFO order, invoking the handler once per
// pending execution. The handler blocks the drainer, so backpressure follows
// slot availability naturally. Drain returns immediately; stop with Close.
func (q *Queue) Drain(ctx context.Context, handler Handler) {
	q.wg.Add(1)

	go q.consume(ctx, handler)
}

func (q *Queue) consume(ctx context.Context, handler Handler) {
	defer q.wg.Done()

	q.logger.InfoContext(ctx, "Starting queue drainer")

	for {
		select {
		case <-q.stopCh:
			q.logger.InfoContext(ctx, "Queue drainer stopped")

			return
		case <-ctx.Done():
			q.logger.InfoContext(ctx, "Context cancelled, stopping queue drainer")

			return
		default:
			if err := q.processOne(ctx, handler); err != nil {
				q.logger.ErrorContext(ctx, "Error processing pending execution", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (q *Queue) processOne(ctx context.Context, handler Handler) error {
	result, err := q.client.BRPop(ctx, 1*time.Second, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop pending execution: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var pending PendingExecution
	if err := json.Unmarshal([]byte(result[1]), &pending); err != nil {
		return fmt.Errorf("failed to decode pending execution: %w", err)
	}

	return handler(ctx, pending)
}

// Close stops the drainer and releases the redis connection.
func (q *Queue) Close(ctx context.Context) error {
	close(q.stopCh)
	q.wg.Wait()

	if err := q.client.Close(); err != nil {
		q.logger.ErrorContext(ctx, "Error closing redis client", "error", err)

		return err
	}

	return nil
}
