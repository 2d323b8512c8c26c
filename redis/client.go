// Package redis connects the credential lifecycle to Redis: a TTL-native
// authorization state store and the asynq client, server and scheduler that
// run the token sweep in worker mode.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/redis/config"
	"github.com/Vector/vector-leads-crm/redis/tasks"
)

// Client wraps asynq client functionality
type Client struct {
	client *asynq.Client
	mu     sync.RWMutex
}

// NewClient creates a new task client and verifies the connection.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	redisOpt, err := cfg.AsynqRedisOpt()
	if err != nil {
		return nil, err
	}

	client := asynq.NewClient(redisOpt)

	if err := client.Ping(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// EnqueueTask enqueues a task with the given type and payload.
// Available options include:
//   - asynq.MaxRetry(n): Set maximum number of retries
//   - asynq.Queue(name): Specify queue name
//   - asynq.Timeout(d): Set task timeout duration
//   - asynq.Unique(ttl): Ensure task uniqueness with TTL
//   - asynq.ProcessIn(d): Schedule task after duration
func (c *Client) EnqueueTask(ctx context.Context, taskType string, payload []byte, opts ...asynq.Option) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	task := asynq.NewTask(taskType, payload)

	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// EnqueueTokenSweep asks the workers for an immediate sweep of provider.
// Duplicate requests within the sweep interval collapse into one task.
func (c *Client) EnqueueTokenSweep(ctx context.Context, provider string) error {
	task, err := tasks.NewTokenSweepTask(provider)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(config.QueueCritical),
		asynq.Unique(5*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue token sweep: %w", err)
	}

	return nil
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}

// RetryWithBackoff retries operation with exponential backoff. It is used for
// the initial connection to Redis, which may still be starting.
func RetryWithBackoff(ctx context.Context, logger *zap.Logger, operation func() error, maxRetries int, initialInterval time.Duration) error {
	var err error

	interval := initialInterval

	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}

		if i == maxRetries-1 {
			break
		}

		logger.Warn("redis operation failed, retrying",
			zap.Int("attempt", i+1),
			zap.Duration("backoff", interval),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
	}

	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, err)
}
