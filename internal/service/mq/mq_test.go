package mq

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-core/internal/event"
	"relay-core/pkg/config"
)

type fakeProducer struct {
	topic, key string
	payload    []byte
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.topic, p.key, p.payload = topic, key, payload
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestEventPublisher(t *testing.T) {
	fp := &fakeProducer{}
	pub := NewEventPublisher(fp, "")

	e := event.RelayEvent{Type: event.TypeSubmitted, ID: "r1", DedupKey: "proxy:0xabc", Status: "submitted"}
	require.NoError(t, pub.Publish(context.Background(), e))

	assert.Equal(t, event.Topic, fp.topic)
	assert.Equal(t, "proxy:0xabc", fp.key)
	got, err := event.Decode(fp.payload)
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
}

// 设置 REDIS_ADDR 时对真实 Redis 运行
func TestRedisStream_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	topic := "test:relay:" + uuid.NewString()
	defer client.Del(context.Background(), topic)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	consumer := NewRedisConsumer(client, "g1", "c1")
	consumer.block = 100 * time.Millisecond
	got := make(chan *Message, 1)
	go func() {
		_ = consumer.Subscribe(ctx, topic, func(msg *Message) error {
			got <- msg
			cancel()
			return nil
		})
	}()

	producer := NewRedisProducer(client, 1000)
	require.Eventually(t, func() bool {
		// 消费者组创建后才会收到消息
		groups, err := client.XInfoGroups(context.Background(), topic).Result()
		return err == nil && len(groups) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, producer.Publish(context.Background(), topic, "k1", []byte(`{"id":"x"}`)))

	select {
	case msg := <-got:
		assert.Equal(t, "k1", msg.Key)
		assert.JSONEq(t, `{"id":"x"}`, string(msg.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestFactory(t *testing.T) {
	var cfg config.Config

	cfg.Redis.MQType = "none"
	_, err := NewProducer(cfg, nil)
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = NewConsumer(cfg, nil, "g", "c")
	assert.ErrorIs(t, err, ErrDisabled)

	cfg.Redis.MQType = "rabbitmq"
	_, err = NewProducer(cfg, nil)
	assert.Error(t, err)

	cfg.Redis.MQType = "redis"
	assert.True(t, NeedsRedis(cfg))
	_, err = NewProducer(cfg, nil)
	assert.Error(t, err)

	cfg.Redis.MQType = "kafka"
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = event.Topic
	assert.False(t, NeedsRedis(cfg))
	p, err := NewProducer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &KafkaProducer{}, p)
	require.NoError(t, p.Close())

	c, err := NewConsumer(cfg, nil, "relay-cli", "cli-0")
	require.NoError(t, err)
	assert.IsType(t, &KafkaConsumer{}, c)
}
