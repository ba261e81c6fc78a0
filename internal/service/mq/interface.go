package mq

import (
	"context"
	"fmt"

	"relay-core/internal/event"
)

// Message 代表一条通用的业务消息
type Message struct {
	ID       string            // 消息ID (例如 Redis Stream ID)
	Topic    string            // 主题 (例如 "relay_events")
	Key      string            // 分区键 (dedup key)，同样用于 Kafka Partition
	Payload  []byte            // 消息体 (JSON)
	Metadata map[string]string // 元数据
}

// Producer 生产者接口
type Producer interface {
	// Publish 发送消息
	// key: 用于分区排序 (Partition Key)，传空字符串则随机分区
	Publish(ctx context.Context, topic string, key string, payload []byte) error
	Close() error
}

// Consumer 消费者接口
type Consumer interface {
	// Subscribe 订阅主题，阻塞直到 ctx 取消
	// handler: 消息处理函数，返回 error 时消息不确认，等待重投
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error

	// Close 关闭消费者
	Close() error
}

// EventPublisher 把中继事件写入 MQ
type EventPublisher struct {
	producer Producer
	topic    string
}

func NewEventPublisher(producer Producer, topic string) *EventPublisher {
	if topic == "" {
		topic = event.Topic
	}
	return &EventPublisher{producer: producer, topic: topic}
}

func (p *EventPublisher) Publish(ctx context.Context, e event.RelayEvent) error {
	payload, err := e.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.producer.Publish(ctx, p.topic, e.DedupKey, payload)
}
