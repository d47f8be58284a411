package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// BlobCleanupTask retries the compensating blob delete after a failed
	// upload rollback.
	BlobCleanupTask = "blob:cleanup"
	// BinSweepTask triggers a purge of binned files past retention.
	BinSweepTask = "bin:sweep"
)

// BlobCleanupPayload tells the worker which object to delete.
type BlobCleanupPayload struct {
	ObjectKey string `json:"object_key"`
}

// Client wraps the asynq client behind the small interface the service needs.
type Client struct {
	inner *asynq.Client
}

// NewClient builds a queue client against Redis.
func NewClient(redisAddr, redisPassword string, redisDB int) *Client {
	return &Client{inner: asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})}
}

// EnqueueBlobCleanup enqueues a blob deletion with retries.
func (c *Client) EnqueueBlobCleanup(ctx context.Context, objectKey string) error {
	data, err := json.Marshal(BlobCleanupPayload{ObjectKey: objectKey})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(BlobCleanupTask, data)
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.MaxRetry(10)); err != nil {
		return fmt.Errorf("enqueue blob cleanup: %w", err)
	}
	return nil
}

// EnqueueBinSweep enqueues one sweep run.
func (c *Client) EnqueueBinSweep(ctx context.Context) error {
	task := asynq.NewTask(BinSweepTask, nil)
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.MaxRetry(2)); err != nil {
		return fmt.Errorf("enqueue bin sweep: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.inner.Close()
}
