package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/agroplatform/internal/config"
	"github.com/nikhilbhutani/agroplatform/internal/mail"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues background jobs. It satisfies mail.Sender, so a queued
// mail counts as sent from the caller's point of view.
type Client struct {
	client enqueuer
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Send(ctx context.Context, msg mail.Message) error {
	return c.enqueue(ctx, TypeMailSend, MailSendPayload{Message: msg},
		asynq.Queue(QueueCritical), asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
