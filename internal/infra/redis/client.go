package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the healing pipeline: incident
// intake, task republishing, retry result polling and per-task locks.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL         string `yaml:"url"`
	Password    string `yaml:"password"`
	IntakeQueue string `yaml:"intake_queue"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks broker liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func resultKey(taskID string) string {
	return fmt.Sprintf("retry_result:%s", taskID)
}

func taskLockKey(taskID string) string {
	return fmt.Sprintf("healing:%s", taskID)
}

// PopIncident blocks up to timeout waiting for the next incident
// message on the intake queue. Returns nil payload when the wait
// expired without a message.
func (c *Client) PopIncident(
	ctx context.Context,
	queue string,
	timeout time.Duration,
) ([]byte, error) {
	res, err := c.rdb.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blpop failed: %w", err)
	}
	// BLPop returns [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected blpop reply length %d", len(res))
	}
	return []byte(res[1]), nil
}

// PublishTask pushes a task payload onto its originating queue.
func (c *Client) PublishTask(ctx context.Context, queue string, payload []byte) error {
	if err := c.rdb.RPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("rpush failed: %w", err)
	}
	return nil
}

// GetResult fetches the retry result for a task, if a worker has
// reported one. Returns nil when absent.
func (c *Client) GetResult(ctx context.Context, taskID string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, resultKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result failed: %w", err)
	}
	return val, nil
}

// ClearResult removes a consumed retry result.
func (c *Client) ClearResult(ctx context.Context, taskID string) error {
	return c.rdb.Del(ctx, resultKey(taskID)).Err()
}

// AcquireTaskLock attempts to take the per-task healing lock.
func (c *Client) AcquireTaskLock(
	ctx context.Context,
	taskID string,
	ttl time.Duration,
) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, taskLockKey(taskID), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseTaskLock releases the per-task healing lock.
func (c *Client) ReleaseTaskLock(ctx context.Context, taskID string) error {
	return c.rdb.Del(ctx, taskLockKey(taskID)).Err()
}

// RefreshTaskLock extends the TTL of a held lock.
func (c *Client) RefreshTaskLock(
	ctx context.Context,
	taskID string,
	ttl time.Duration,
) error {
	return c.rdb.Expire(ctx, taskLockKey(taskID), ttl).Err()
}

// ClearTransient deletes transient healing keys matching a pattern.
// Used by the emergency path to drop cached state, and by the unlock
// CLI command to clear stale locks.
func (c *Client) ClearTransient(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan failed: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("del failed: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// QueueDepth returns the number of pending messages on a queue.
func (c *Client) QueueDepth(ctx context.Context, queue string) (int64, error) {
	n, err := c.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("llen failed: %w", err)
	}
	return n, nil
}
