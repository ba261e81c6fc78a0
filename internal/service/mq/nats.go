package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"relay-core/pkg/logger"
)

// NATSBus 基于 JetStream 的生产者/消费者
// Subject = <subject 前缀>.<topic>，Stream 覆盖 <subject 前缀>.>
type NATSBus struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	stream  string
	prefix  string
	durable string
}

// NewNATSBus 连接 NATS 并确保 Stream 存在
func NewNATSBus(url, stream, prefix, durable string) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("[NATS] 连接断开", zap.Error(err))
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("[NATS] 重新连接成功")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 JetStream 失败: %w", err)
	}

	b := &NATSBus{conn: conn, js: js, stream: stream, prefix: prefix, durable: durable}
	if err := b.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *NATSBus) ensureStream() error {
	if _, err := b.js.StreamInfo(b.stream); err == nil {
		return nil
	}
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:      b.stream,
		Subjects:  []string{b.prefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("创建 Stream 失败: %w", err)
	}
	logger.Info("[NATS] Stream 创建成功", zap.String("stream", b.stream))
	return nil
}

func (b *NATSBus) subject(topic string) string {
	return b.prefix + "." + topic
}

// Publish 同步等待 JetStream 确认
func (b *NATSBus) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	msg := nats.NewMsg(b.subject(topic))
	msg.Data = payload
	if key != "" {
		msg.Header.Set("Relay-Key", key)
	}
	if _, err := b.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("nats publish error: %w", err)
	}
	return nil
}

// Subscribe 持久化推送订阅，处理成功 Ack，失败 Nak 等待重投
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	sub, err := b.js.Subscribe(b.subject(topic), func(m *nats.Msg) {
		msg := &Message{
			Topic:   topic,
			Key:     m.Header.Get("Relay-Key"),
			Payload: m.Data,
		}
		if meta, err := m.Metadata(); err == nil {
			msg.ID = fmt.Sprintf("%d", meta.Sequence.Stream)
		}
		if err := handler(msg); err != nil {
			logger.Warn("[NATS] 消息处理失败", zap.String("id", msg.ID), zap.Error(err))
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	}, nats.Durable(b.durable), nats.ManualAck(), nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("订阅 %s 失败: %w", topic, err)
	}
	logger.Info("[NATS] 开始监听主题", zap.String("subject", b.subject(topic)))

	<-ctx.Done()
	return sub.Unsubscribe()
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
