package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"relay-core/internal/relay"
	"relay-core/internal/worker/tasks"
)

// Client 封装 Asynq Client，同时作为 asynq 模式下的 relay.Confirmer
type Client struct {
	client   *asynq.Client
	interval time.Duration
}

// NewClient 初始化 Client
// interval: 第一次确认的延迟
func NewClient(opt asynq.RedisConnOpt, interval time.Duration) *Client {
	return &Client{client: asynq.NewClient(opt), interval: interval}
}

// Enqueue 将任务推送到队列
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, task, opts...)
}

// Track 为已提交的交易创建确认任务，重复提交同一笔交易时忽略
func (c *Client) Track(ctx context.Context, p relay.Pending) error {
	task, err := tasks.NewConfirmTask(p, c.interval)
	if err != nil {
		return err
	}
	if _, err := c.Enqueue(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	return nil
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}
