package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"relay-core/internal/model"
	"relay-core/internal/service/mq"
	"relay-core/pkg/logger"
)

// OutboxStore 本地消息表
type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkOutbox(ctx context.Context, id uint64, sent bool) error
}

// OutboxRelay 负责将本地消息表的消息搬运到 MQ
type OutboxRelay struct {
	store    OutboxStore
	producer mq.Producer
	interval time.Duration
	batch    int
}

func NewOutboxRelay(store OutboxStore, producer mq.Producer) *OutboxRelay {
	return &OutboxRelay{
		store:    store,
		producer: producer,
		interval: 500 * time.Millisecond,
		batch:    50, // 每次最多取 50 条
	}
}

// Start 阻塞轮询直到 ctx 取消
func (s *OutboxRelay) Start(ctx context.Context) {
	logger.Info("[Outbox] 启动消息中继服务")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Outbox] 停止服务")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

// ProcessPending 投递一批消息，返回成功条数。
// 发送成功才标记 SENT，标记失败时下轮会重发 (At-least-once)，消费方需幂等
func (s *OutboxRelay) ProcessPending(ctx context.Context) int {
	msgs, err := s.store.PendingOutbox(ctx, s.batch)
	if err != nil {
		logger.Warn("[Outbox] 查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Warn("[Outbox] 发送消息失败", zap.Uint64("id", msg.ID), zap.Error(err))
			if err := s.store.MarkOutbox(ctx, msg.ID, false); err != nil {
				logger.Warn("[Outbox] 更新重试次数失败", zap.Uint64("id", msg.ID), zap.Error(err))
			}
			continue
		}
		if err := s.store.MarkOutbox(ctx, msg.ID, true); err != nil {
			logger.Warn("[Outbox] 更新状态失败", zap.Uint64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		logger.Debug("[Outbox] 消息已投递", zap.Int("count", sent))
	}
	return sent
}
