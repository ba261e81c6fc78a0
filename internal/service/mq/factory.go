package mq

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"relay-core/pkg/config"
)

// ErrDisabled mq_type=none
var ErrDisabled = errors.New("消息队列未启用")

const redisStreamMaxLen = 100_000

// NewProducer 按 redis.mq_type 创建生产者。rdb 只在 redis 模式下使用
func NewProducer(cfg config.Config, rdb redis.UniversalClient) (Producer, error) {
	switch cfg.Redis.MQType {
	case "kafka":
		return NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic), nil
	case "nats":
		bus, err := NewNATSBus(cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Subject, "")
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "redis", "":
		if rdb == nil {
			return nil, errors.New("redis stream 需要 Redis 连接")
		}
		return NewRedisProducer(rdb, redisStreamMaxLen), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("未知的 mq_type: %s", cfg.Redis.MQType)
	}
}

// NewConsumer 按 redis.mq_type 创建消费者，group 同时作为 NATS 的 durable 名
func NewConsumer(cfg config.Config, rdb redis.UniversalClient, group, name string) (Consumer, error) {
	switch cfg.Redis.MQType {
	case "kafka":
		return NewKafkaConsumer(cfg.Kafka.Brokers, group), nil
	case "nats":
		bus, err := NewNATSBus(cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Subject, group)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "redis", "":
		if rdb == nil {
			return nil, errors.New("redis stream 需要 Redis 连接")
		}
		return NewRedisConsumer(rdb, group, name), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("未知的 mq_type: %s", cfg.Redis.MQType)
	}
}

// NeedsRedis 当前 mq_type 是否依赖 Redis
func NeedsRedis(cfg config.Config) bool {
	return cfg.Redis.MQType == "redis" || cfg.Redis.MQType == ""
}
