// Package tasks provides the Asynq background jobs of the flock server.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// RedisConfig locates the Redis instance backing the task queues.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) clientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
}

// Client wraps an Asynq client for enqueuing tasks.
type Client struct {
	client *asynq.Client
}

// NewClient creates a new task client.
func NewClient(cfg RedisConfig) *Client {
	return &Client{client: asynq.NewClient(cfg.clientOpt())}
}

// Close closes the task client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Enqueue enqueues a task with the given type and JSON-encoded payload.
func (c *Client) Enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueuing task: %w", err)
	}

	log.Debug().
		Str("task_type", taskType).
		Str("task_id", info.ID).
		Time("process_at", info.NextProcessAt).
		Msg("Task enqueued")

	return info, nil
}

// ScheduleExpiry enqueues the eager expiry of an impersonation session at
// its deadline. Scheduling the same session twice is not an error.
func (c *Client) ScheduleExpiry(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	_, err := c.Enqueue(ctx, TaskTypeExpireImpersonation, ExpirePayload{SessionID: sessionID},
		asynq.ProcessAt(at),
		asynq.TaskID(expiryTaskID(sessionID)),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func expiryTaskID(sessionID uuid.UUID) string {
	return "impersonation-expire:" + sessionID.String()
}
